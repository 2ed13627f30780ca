package crud

import (
	"fmt"
	"strings"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

// Resources returns the REST families in route order.
func Resources(params auth.ArgonParams) []Resource {
	return []Resource{
		Users(params),
		{Name: "teams", Collection: models.Teams, Policy: auth.AllowAll},
		{Name: "projects", Collection: models.Projects, Policy: auth.AdminOrProductOwner},
		{Name: "stories", Collection: models.Stories, Policy: auth.AllowAll},
		{Name: "epics", Collection: models.Epics, Policy: auth.AllowAll},
		{Name: "sprints", Collection: models.Sprints, Policy: auth.AllowAll},
		{Name: "notifications", Collection: models.Notifications, Policy: auth.AllowAll},
	}
}

// Users is the admin-only user family. Passwords are hashed on write and
// never returned.
func Users(params auth.ArgonParams) Resource {
	return Resource{
		Name:        "users",
		Collection:  models.Users,
		Policy:      auth.AdminOnly,
		BeforeWrite: PrepareUser(params),
		Hidden:      []string{"password"},
	}
}

// PrepareUser normalises the email and hashes a plain password. Values that
// already carry a hash prefix are kept as they are.
func PrepareUser(params auth.ArgonParams) func(store.Document) error {
	return func(doc store.Document) error {
		if email, ok := doc["email"].(string); ok {
			doc["email"] = strings.ToLower(strings.TrimSpace(email))
		}
		pw, ok := doc["password"].(string)
		if !ok || pw == "" || auth.IsHashed(pw) {
			return nil
		}
		hash, err := auth.HashPassword(params, pw)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		doc["password"] = hash
		return nil
	}
}
