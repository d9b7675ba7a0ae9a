package handlers_test

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestRegisterUser_DuplicateEmailConflict(t *testing.T) {
	app := setupApp(t)

	body := fiber.Map{
		"display_name": "Avery",
		"email":        "avery@test.local",
		"password":     "secret1",
	}
	resp, payload := doJSON(t, app, "POST", "/api/v1/auth/register", "", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first registration status = %d, want 201; body %s", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, app, "POST", "/api/v1/auth/register", "", body)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate registration status = %d, want 409; body %s", resp.StatusCode, payload)
	}
}

func TestLoginUser_WrongPasswordUnauthorized(t *testing.T) {
	app := setupApp(t)

	resp, payload := doJSON(t, app, "POST", "/api/v1/auth/register", "", fiber.Map{
		"display_name": "Avery",
		"email":        "avery@test.local",
		"password":     "secret1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("registration status = %d; body %s", resp.StatusCode, payload)
	}

	resp, _ = doJSON(t, app, "POST", "/api/v1/auth/login", "", fiber.Map{
		"email":    "avery@test.local",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong-password login status = %d, want 401", resp.StatusCode)
	}
}
