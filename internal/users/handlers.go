package users

import (
	"errors"
	"net/http"

	"github.com/ageniuscoder/chatsync/internal/auth"
	"github.com/ageniuscoder/chatsync/internal/config"
	"github.com/ageniuscoder/chatsync/internal/httpx"
	"github.com/ageniuscoder/chatsync/internal/models"
	"github.com/ageniuscoder/chatsync/internal/policy"
	"github.com/ageniuscoder/chatsync/internal/store"
	"github.com/gin-gonic/gin"
)

type Service struct {
	Store  *store.Store
	Issuer auth.Issuer
}

type registerReq struct {
	Name                 string `json:"name" binding:"required,max=255"`
	Email                string `json:"email" binding:"required,email,max=255"`
	Password             string `json:"password" binding:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" binding:"required,eqfield=Password"`
}

// updateReq changes only the fields that are present; an empty string
// counts as absent.
type updateReq struct {
	Name                 string `json:"name" binding:"omitempty,max=255"`
	Email                string `json:"email" binding:"omitempty,email,max=255"`
	Password             string `json:"password" binding:"omitempty,min=8"`
	PasswordConfirmation string `json:"password_confirmation" binding:"required_with=Password,eqfield=Password"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type searchReq struct {
	Q string `form:"q" binding:"max=255"`
}

type tokenResp struct {
	auth.Session
	User models.User `json:"user"`
}

func RegisterPublic(rg gin.IRoutes, st *store.Store, cfg config.Config) {
	s := Service{Store: st, Issuer: auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTLMin)}
	rg.POST("/register", s.register)
	rg.POST("/login", s.login)
}

// Register mounts the authenticated user routes.
func Register(rg gin.IRoutes, st *store.Store) {
	s := Service{Store: st}
	rg.POST("/logout", s.logout)
	rg.GET("/user", s.me)
	rg.GET("/users", s.search)
	rg.POST("/users", s.createUser)
	rg.GET("/users/:id", s.show)
	rg.PATCH("/users/:id", s.update)
	rg.DELETE("/users/:id", s.destroy)
}

func (s Service) create(c *gin.Context) (models.User, bool) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return models.User{}, false
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.Fail(c, err)
		return models.User{}, false
	}
	u, err := s.Store.CreateUser(c.Request.Context(), req.Name, req.Email, hash)
	if err != nil {
		httpx.Fail(c, err)
		return models.User{}, false
	}
	return u, true
}

func (s Service) issue(c *gin.Context, u models.User) (tokenResp, bool) {
	sess, err := s.Issuer.Issue(u.ID)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "Token Generation Failed")
		return tokenResp{}, false
	}
	return tokenResp{Session: sess, User: u}, true
}

func (s Service) register(c *gin.Context) {
	u, ok := s.create(c)
	if !ok {
		return
	}
	if resp, ok := s.issue(c, u); ok {
		httpx.Created(c, resp)
	}
}

func (s Service) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	u, hash, err := s.Store.UserByEmail(c.Request.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Err(c, http.StatusUnauthorized, "Invalid Credentials")
		return
	}
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	if err := auth.CheckPassword(hash, req.Password); err != nil {
		httpx.Err(c, http.StatusUnauthorized, "Invalid Credentials")
		return
	}

	if resp, ok := s.issue(c, u); ok {
		httpx.OK(c, resp)
	}
}

// logout has nothing to revoke: tokens are stateless and simply expire.
func (s Service) logout(c *gin.Context) {
	httpx.NoContent(c)
}

func (s Service) me(c *gin.Context) {
	u, err := s.Store.UserByID(c.Request.Context(), auth.MustUserID(c))
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, u)
}

func (s Service) search(c *gin.Context) {
	var req searchReq
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	list, err := s.Store.SearchUsers(c.Request.Context(), req.Q, 10)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, list)
}

// createUser creates an account for someone else; unlike register it hands out
// no session.
func (s Service) createUser(c *gin.Context) {
	if u, ok := s.create(c); ok {
		httpx.Created(c, u)
	}
}

func (s Service) show(c *gin.Context) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return
	}
	u, err := s.Store.UserByID(c.Request.Context(), id)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, u)
}

// account loads the user named by :id and checks the caller may act on it.
func (s Service) account(c *gin.Context, action policy.Action) (int64, bool) {
	id, ok := httpx.ParamID(c, "id")
	if !ok {
		return 0, false
	}
	if _, err := s.Store.UserByID(c.Request.Context(), id); err != nil {
		httpx.Fail(c, err)
		return 0, false
	}
	if !policy.CanPerform(auth.MustUserID(c), action, policy.Account{UserID: id}) {
		httpx.Fail(c, httpx.ErrForbidden)
		return 0, false
	}
	return id, true
}

func (s Service) update(c *gin.Context) {
	id, ok := s.account(c, policy.Update)
	if !ok {
		return
	}
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}

	var ch store.UserChanges
	if req.Name != "" {
		ch.Name = &req.Name
	}
	if req.Email != "" {
		ch.Email = &req.Email
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			httpx.Fail(c, err)
			return
		}
		ch.PasswordHash = &hash
	}

	u, err := s.Store.UpdateUser(c.Request.Context(), id, ch)
	if err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, u)
}

func (s Service) destroy(c *gin.Context) {
	id, ok := s.account(c, policy.Delete)
	if !ok {
		return
	}
	if err := s.Store.DeleteUser(c.Request.Context(), id); err != nil {
		httpx.Fail(c, err)
		return
	}
	httpx.OK(c, gin.H{"message": "User deleted successfully"})
}
