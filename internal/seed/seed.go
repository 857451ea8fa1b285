// Package seed loads a demo catalog of members and items from YAML.
package seed

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/erazemk/menjalnica/internal/auth"
	"github.com/erazemk/menjalnica/internal/store"
)

// Catalog is the YAML document layout.
type Catalog struct {
	Members []Member `yaml:"members"`
	Items   []Item   `yaml:"items"`
}

// Member is a seeded account. Points, when set, replaces the welcome credit.
type Member struct {
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
	Password    string `yaml:"password"`
	Location    string `yaml:"location"`
	Points      *int64 `yaml:"points"`
}

// Item is a seeded listing owned by the member with email Owner.
type Item struct {
	Owner           string `yaml:"owner"`
	store.ItemAttrs `yaml:",inline"`
}

// Result counts what Apply created.
type Result struct {
	Members int
	Items   int
	Skipped int
}

// Parse decodes a catalog. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return &c, nil
}

// LoadFile parses the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Apply creates the catalog's members and items. Members whose email is
// already registered are skipped along with their items, so applying the
// same catalog twice changes nothing.
func Apply(ctx context.Context, db *sql.DB, c *Catalog, welcomePoints int64) (Result, error) {
	var res Result
	owners := make(map[string]string)
	skipped := make(map[string]bool)

	for _, m := range c.Members {
		email, err := store.NormalizeEmail(m.Email)
		if err != nil {
			return res, fmt.Errorf("member %q: %w", m.Email, err)
		}

		existing, err := store.GetMemberByEmail(ctx, db, email)
		if err != nil {
			return res, err
		}
		if existing != nil {
			skipped[email] = true
			res.Skipped++
			continue
		}

		hash, err := auth.HashPassword(m.Password)
		if err != nil {
			return res, err
		}
		points := welcomePoints
		if m.Points != nil {
			points = *m.Points
		}

		member, err := store.CreateMember(ctx, db, store.MemberAttrs{
			Email:        email,
			DisplayName:  m.DisplayName,
			Location:     m.Location,
			PasswordHash: hash,
		}, points)
		if err != nil {
			return res, fmt.Errorf("member %q: %w", m.Email, err)
		}
		owners[email] = member.ID
		res.Members++
	}

	for _, it := range c.Items {
		email, err := store.NormalizeEmail(it.Owner)
		if err != nil {
			return res, fmt.Errorf("item %q: owner: %w", it.Title, err)
		}
		if skipped[email] {
			res.Skipped++
			continue
		}
		ownerID, ok := owners[email]
		if !ok {
			return res, fmt.Errorf("item %q: owner %s is not in the catalog", it.Title, it.Owner)
		}

		if _, err := store.CreateItem(ctx, db, ownerID, it.ItemAttrs); err != nil {
			return res, fmt.Errorf("item %q: %w", it.Title, err)
		}
		res.Items++
	}

	slog.Info("catalog seeded", "members", res.Members, "items", res.Items, "skipped", res.Skipped)
	return res, nil
}
