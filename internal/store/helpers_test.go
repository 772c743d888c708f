package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/erazemk/rewear/internal/model"
)

func mustUser(t *testing.T, database *sql.DB, name string) *model.User {
	t.Helper()
	u, err := CreateUser(context.Background(), database, name, name+"@example.com", "hash", model.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u
}

func mustItem(t *testing.T, database *sql.DB, owner *model.User, title string) *model.Item {
	t.Helper()
	it, err := CreateItem(context.Background(), database, &model.Item{
		Title:       title,
		Description: fmt.Sprintf("%s for swapping", title),
		Category:    "tops",
		Size:        "M",
		Condition:   "good",
		Tags:        []string{"cotton"},
		UploaderID:  owner.ID,
		Approved:    true,
		Points:      20,
	})
	if err != nil {
		t.Fatalf("CreateItem(%s): %v", title, err)
	}
	return it
}

func mustAward(t *testing.T, database *sql.DB, user *model.User, amount int) {
	t.Helper()
	if _, err := AwardPoints(context.Background(), database, user.ID, amount, "test", nil, time.Now()); err != nil {
		t.Fatalf("AwardPoints: %v", err)
	}
}
