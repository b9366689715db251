package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dmitrijs2005/userdir/internal/server/models"
)

type handlers struct {
	users UserDirectory
	sync  Synchronizer
	login LoginService
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Circuit string `json:"circuit"`
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

func (h *handlers) health(c *fiber.Ctx) error {
	return c.JSON(healthResponse{Status: "ok", Circuit: h.sync.CircuitState().String()})
}

func (h *handlers) authenticate(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("malformed request body")
	}

	token, err := h.login.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(loginResponse{Token: token})
}

func (h *handlers) loadUsers(c *fiber.Ctx) error {
	out, err := h.sync.Sync(c.UserContext())
	if err != nil {
		return err
	}

	users := out.Users
	if users == nil {
		users = []models.User{}
	}
	return c.JSON(users)
}

func (h *handlers) listUsers(c *fiber.Ctx) error {
	users, err := h.users.ListAll(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(users)
}

func (h *handlers) searchUsers(c *fiber.Ctx) error {
	users, err := h.users.Search(c.UserContext(), c.Query("query"))
	if err != nil {
		return err
	}
	if users == nil {
		users = []models.User{}
	}
	return c.JSON(users)
}

func (h *handlers) userByEmail(c *fiber.Ctx) error {
	u, err := h.users.GetByEmail(c.UserContext(), c.Query("email"))
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (h *handlers) userByID(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return badRequest("id must be a number")
	}

	u, err := h.users.GetByID(c.UserContext(), int64(id))
	if err != nil {
		return err
	}
	return c.JSON(u)
}

func (h *handlers) createUser(c *fiber.Ctx) error {
	var u models.User
	if err := c.BodyParser(&u); err != nil {
		return badRequest("malformed request body")
	}

	created, err := h.users.Create(c.UserContext(), u)
	if err != nil {
		return err
	}
	return c.JSON(created)
}
