package server

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"skyrush/internal/crash"
)

func TestVerifyHandler(t *testing.T) {
	s := &FiberServer{App: fiber.New()}
	s.App.Get("/api/crash/verify", s.verifyHandler)

	seed := "server_seed_for_tests"
	client := "client_seed_for_tests"
	nonce := 7
	expected := crash.DeriveCrashPoint(seed, client, nonce)

	url := "/api/crash/verify?serverSeed=" + seed + "&clientSeed=" + client + "&nonce=7&multiplier=" +
		jsonNumber(expected)

	req, _ := http.NewRequest("GET", url, nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %v, want 200", resp.Status)
	}

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		Valid      bool    `json:"valid"`
		Multiplier float64 `json:"multiplier"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("could not unmarshal response: %v", err)
	}
	if !result.Valid {
		t.Error("expected a correct reveal to verify")
	}
	if result.Multiplier != expected {
		t.Errorf("multiplier = %v, want %v", result.Multiplier, expected)
	}
}

func TestVerifyHandler_MissingParams(t *testing.T) {
	s := &FiberServer{App: fiber.New()}
	s.App.Get("/api/crash/verify", s.verifyHandler)

	req, _ := http.NewRequest("GET", "/api/crash/verify?serverSeed=x", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %v, want 400", resp.Status)
	}
}

func TestFail_BusinessErrorMapping(t *testing.T) {
	app := fiber.New()
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fail(c, crash.ErrBetNotFound)
	})

	req, _ := http.NewRequest("GET", "/boom", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %v, want 404", resp.Status)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("could not unmarshal response: %v", err)
	}
	if result["code"] != "bet_not_found" {
		t.Errorf("code = %v, want bet_not_found", result["code"])
	}
}

func TestRequireUser(t *testing.T) {
	s := &FiberServer{App: fiber.New()}
	s.App.Get("/me", s.requireUser, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"userId": c.Locals("userID")})
	})

	// Missing header.
	req, _ := http.NewRequest("GET", "/me", nil)
	resp, _ := s.App.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp.Status)
	}

	// Forwarded identity accepted.
	req, _ = http.NewRequest("GET", "/me", nil)
	req.Header.Set("X-User-ID", "alice")
	resp, _ = s.App.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %v, want 200", resp.Status)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]string
	json.Unmarshal(body, &result)
	if result["userId"] != "alice" {
		t.Errorf("userId = %v, want alice", result["userId"])
	}
}

func TestRequireAdmin(t *testing.T) {
	s := &FiberServer{App: fiber.New(), adminToken: "secret"}
	s.App.Post("/admin", s.requireAdmin, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	req, _ := http.NewRequest("POST", "/admin", nil)
	resp, _ := s.App.Test(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403 without token", resp.Status)
	}

	req, _ = http.NewRequest("POST", "/admin", nil)
	req.Header.Set("X-Admin-Token", "secret")
	resp, _ = s.App.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %v, want 200 with token", resp.Status)
	}
}

func TestRequireAdmin_NoTokenConfigured(t *testing.T) {
	// An empty configured token must not open the admin surface.
	s := &FiberServer{App: fiber.New()}
	s.App.Post("/admin", s.requireAdmin, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	req, _ := http.NewRequest("POST", "/admin", nil)
	req.Header.Set("X-Admin-Token", "")
	resp, _ := s.App.Test(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %v, want 403", resp.Status)
	}
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
