package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/rewear/internal/db"
	"github.com/erazemk/rewear/internal/model"
	"github.com/erazemk/rewear/internal/store"
)

const testJWTSecret = "test-secret"

type testServer struct {
	*httptest.Server
	db         *sql.DB
	adminToken string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	database := db.NewTestDB(t)
	router := NewRouter(Options{
		DB:        database,
		JWTSecret: testJWTSecret,
		Log:       zerolog.Nop(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	// Create admin user.
	ctx := context.Background()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	if _, err := store.CreateUser(ctx, database, "Admin", "admin@example.com", string(hash), model.RoleAdmin); err != nil {
		t.Fatalf("creating admin: %v", err)
	}

	ts := &testServer{Server: server, db: database}
	ts.adminToken = ts.login(t, "admin@example.com", "password")
	return ts
}

// result is a decoded response envelope.
type result struct {
	Status  int
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (r result) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Data, v); err != nil {
		t.Fatalf("decoding data %s: %v", r.Data, err)
	}
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func send(t *testing.T, req *http.Request) result {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	res := result{Status: resp.StatusCode}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", req.Method, req.URL.Path, data, err)
		}
	}
	return res
}

func (ts *testServer) call(t *testing.T, method, path, token string, body any) result {
	t.Helper()
	req, err := authRequest(method, ts.URL+path, token, body)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return send(t, req)
}

func (ts *testServer) expect(t *testing.T, status int, method, path, token string, body any) result {
	t.Helper()
	res := ts.call(t, method, path, token, body)
	if res.Status != status {
		t.Fatalf("%s %s: expected %d, got %d (%s)", method, path, status, res.Status, res.Message)
	}
	return res
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	res := ts.expect(t, http.StatusOK, "POST", "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	var tok tokenResponse
	res.decode(t, &tok)
	if tok.Token == "" {
		t.Fatal("empty token from login")
	}
	return tok.Token
}

// signUp registers a user and returns their token and ID.
func (ts *testServer) signUp(t *testing.T, name string) (string, int64) {
	t.Helper()
	res := ts.expect(t, http.StatusCreated, "POST", "/api/auth/register", "", map[string]string{
		"name":     name,
		"email":    strings.ToLower(name) + "@example.com",
		"password": "password123",
	})
	var tok tokenResponse
	res.decode(t, &tok)
	return tok.Token, tok.User.ID
}

// listItem creates an item as token's user and approves it as admin.
func (ts *testServer) listItem(t *testing.T, token, title string) int64 {
	t.Helper()
	res := ts.expect(t, http.StatusCreated, "POST", "/api/items", token, map[string]any{
		"title":       title,
		"description": "Worn a few times",
		"category":    "tops",
		"size":        "M",
		"condition":   "good",
		"tags":        []string{"cotton"},
		"points":      25,
	})
	var it model.Item
	res.decode(t, &it)
	ts.expect(t, http.StatusOK, "PATCH", fmt.Sprintf("/api/admin/items/%d/approve", it.ID), ts.adminToken, nil)
	return it.ID
}

func (ts *testServer) me(t *testing.T, token string) profile {
	t.Helper()
	var p profile
	ts.expect(t, http.StatusOK, "GET", "/api/users/me", token, nil).decode(t, &p)
	return p
}

func TestLoginEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	// Test invalid credentials.
	res := ts.call(t, "POST", "/api/auth/login", "", map[string]string{"email": "admin@example.com", "password": "wrong"})
	if res.Status != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", res.Status)
	}
	if res.Success {
		t.Error("expected success false")
	}

	res = ts.call(t, "POST", "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "password"})
	if res.Status != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown email, got %d", res.Status)
	}
}

func TestRegisterAndProfile(t *testing.T) {
	ts := setupTestServer(t)

	token, id := ts.signUp(t, "Maja")
	p := ts.me(t, token)
	if p.ID != id || p.Points != 0 || p.Level != model.LevelBronze {
		t.Errorf("unexpected profile: %+v", p)
	}

	res := ts.call(t, "POST", "/api/auth/register", "", map[string]string{
		"name": "Maja Again", "email": "MAJA@example.com", "password": "password123",
	})
	if res.Status != http.StatusBadRequest || res.Message != "User already exists" {
		t.Errorf("expected 400 for duplicate email, got %d (%s)", res.Status, res.Message)
	}

	res = ts.call(t, "POST", "/api/auth/register", "", map[string]string{
		"name": "Short", "email": "short@example.com", "password": "123",
	})
	if res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", res.Status)
	}

	res = ts.call(t, "GET", "/api/users/me", "", nil)
	if res.Status != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", res.Status)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := setupTestServer(t)
	token, _ := ts.signUp(t, "Luka")

	ts.expect(t, http.StatusOK, "POST", "/api/auth/logout", token, nil)

	res := ts.call(t, "GET", "/api/users/me", token, nil)
	if res.Status != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", res.Status)
	}
}

func TestChangePassword(t *testing.T) {
	ts := setupTestServer(t)
	token, _ := ts.signUp(t, "Nina")

	res := ts.call(t, "PUT", "/api/auth/password", token, map[string]string{
		"currentPassword": "wrong-password", "newPassword": "newpassword1",
	})
	if res.Status != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong current password, got %d", res.Status)
	}

	ts.expect(t, http.StatusOK, "PUT", "/api/auth/password", token, map[string]string{
		"currentPassword": "password123", "newPassword": "newpassword1",
	})
	ts.login(t, "nina@example.com", "newpassword1")
}

func TestSuspendedUser(t *testing.T) {
	ts := setupTestServer(t)
	token, id := ts.signUp(t, "Petra")

	path := fmt.Sprintf("/api/users/%d/status", id)
	res := ts.call(t, "PUT", path, token, map[string]string{"status": model.UserStatusSuspended})
	if res.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", res.Status)
	}
	ts.expect(t, http.StatusOK, "PUT", path, ts.adminToken, map[string]string{"status": model.UserStatusSuspended})

	res = ts.call(t, "POST", "/api/auth/login", "", map[string]string{"email": "petra@example.com", "password": "password123"})
	if res.Status != http.StatusForbidden {
		t.Errorf("expected 403 for suspended login, got %d", res.Status)
	}
	res = ts.call(t, "POST", "/api/items", token, map[string]any{
		"title": "Hat", "description": "Warm", "category": "accessories", "size": "One Size",
	})
	if res.Status != http.StatusForbidden {
		t.Errorf("expected 403 for suspended item creation, got %d", res.Status)
	}
}

func TestItemModerationFlow(t *testing.T) {
	ts := setupTestServer(t)
	token, _ := ts.signUp(t, "Eva")

	res := ts.expect(t, http.StatusCreated, "POST", "/api/items", token, map[string]any{
		"title":       "Linen dress",
		"description": "Summer dress",
		"category":    "dresses",
		"size":        "S",
		"images": []map[string]any{
			{"url": "https://example.com/a.jpg"},
			{"url": "https://example.com/b.jpg", "isPrimary": true},
			{"url": "https://example.com/c.jpg", "isPrimary": true},
		},
	})
	var it model.Item
	res.decode(t, &it)
	if it.Approved {
		t.Error("expected new item to await approval")
	}
	if primary := it.PrimaryImage(); primary == nil || primary.URL != "https://example.com/b.jpg" {
		t.Errorf("unexpected primary image: %+v", it.Images)
	}

	// Not public yet.
	var listed itemsResponse
	ts.expect(t, http.StatusOK, "GET", "/api/items", "", nil).decode(t, &listed)
	if len(listed.Items) != 0 {
		t.Errorf("expected no public items, got %d", len(listed.Items))
	}
	if res := ts.call(t, "GET", fmt.Sprintf("/api/items/%d", it.ID), "", nil); res.Status != http.StatusNotFound {
		t.Errorf("expected 404 for pending item, got %d", res.Status)
	}

	var pending itemsResponse
	ts.expect(t, http.StatusOK, "GET", "/api/admin/items/pending", ts.adminToken, nil).decode(t, &pending)
	if len(pending.Items) != 1 || pending.Items[0].ID != it.ID {
		t.Fatalf("unexpected pending queue: %+v", pending.Items)
	}

	approve := fmt.Sprintf("/api/admin/items/%d/approve", it.ID)
	ts.expect(t, http.StatusOK, "PATCH", approve, ts.adminToken, nil)
	if res := ts.call(t, "PATCH", approve, ts.adminToken, nil); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for second approval, got %d", res.Status)
	}

	if p := ts.me(t, token); p.Points != DefaultApprovalPoints {
		t.Errorf("expected %d points after approval, got %d", DefaultApprovalPoints, p.Points)
	}

	var ledger ledgerResponse
	ts.expect(t, http.StatusOK, "GET", "/api/users/me/ledger", token, nil).decode(t, &ledger)
	if len(ledger.Entries) != 1 || ledger.Entries[0].Kind != model.LedgerAward {
		t.Errorf("unexpected ledger: %+v", ledger.Entries)
	}
	if !ledger.Reconciliation.InSync {
		t.Errorf("expected balance in sync: %+v", ledger.Reconciliation)
	}

	ts.expect(t, http.StatusOK, "GET", "/api/items?category=dresses&q=linen", "", nil).decode(t, &listed)
	if len(listed.Items) != 1 || listed.Pagination.Total != 1 {
		t.Errorf("expected approved item in listing, got %+v", listed)
	}
	ts.expect(t, http.StatusOK, "GET", "/api/items?category=shoes", "", nil).decode(t, &listed)
	if len(listed.Items) != 0 {
		t.Errorf("expected category filter to exclude item, got %d", len(listed.Items))
	}
}

func TestAdminItemsSkipModeration(t *testing.T) {
	ts := setupTestServer(t)

	var it model.Item
	ts.expect(t, http.StatusCreated, "POST", "/api/items", ts.adminToken, map[string]any{
		"title": "Trench coat", "description": "Classic", "category": "outerwear", "size": "L",
	}).decode(t, &it)
	if !it.Approved {
		t.Error("expected admin item to be approved")
	}
}

func TestItemOwnership(t *testing.T) {
	ts := setupTestServer(t)
	owner, _ := ts.signUp(t, "Ana")
	other, _ := ts.signUp(t, "Bor")
	id := ts.listItem(t, owner, "Wool sweater")
	path := fmt.Sprintf("/api/items/%d", id)

	update := map[string]any{
		"title": "Wool sweater", "description": "Hand knit", "category": "tops", "size": "L",
	}
	if res := ts.call(t, "PUT", path, other, update); res.Status != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner update, got %d", res.Status)
	}

	var it model.Item
	ts.expect(t, http.StatusOK, "PUT", path, owner, update).decode(t, &it)
	if it.Description != "Hand knit" || it.Size != "L" {
		t.Errorf("update not applied: %+v", it)
	}

	// Views are counted for others only.
	ts.expect(t, http.StatusOK, "GET", path, owner, nil)
	ts.expect(t, http.StatusOK, "GET", path, other, nil).decode(t, &it)
	if it.Views != 1 {
		t.Errorf("expected 1 view, got %d", it.Views)
	}

	var like likeResponse
	ts.expect(t, http.StatusOK, "POST", path+"/like", other, nil).decode(t, &like)
	if !like.Liked || like.LikeCount != 1 {
		t.Errorf("unexpected like: %+v", like)
	}
	ts.expect(t, http.StatusOK, "POST", path+"/like", other, nil).decode(t, &like)
	if like.Liked || like.LikeCount != 0 {
		t.Errorf("unexpected unlike: %+v", like)
	}

	var mine []model.Item
	ts.expect(t, http.StatusOK, "GET", "/api/items/mine", owner, nil).decode(t, &mine)
	if len(mine) != 1 {
		t.Errorf("expected 1 own item, got %d", len(mine))
	}

	ts.expect(t, http.StatusOK, "DELETE", path, owner, nil)
	if res := ts.call(t, "GET", path, "", nil); res.Status != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", res.Status)
	}
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	return buf.Bytes()
}

func (ts *testServer) upload(t *testing.T, itemID int64, token string, data []byte, primary bool) result {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	part.Write(data)
	mw.WriteField("alt", "front")
	if primary {
		mw.WriteField("primary", "true")
	}
	mw.Close()

	req, err := http.NewRequest("POST", fmt.Sprintf("%s/api/items/%d/images", ts.URL, itemID), &body)
	if err != nil {
		t.Fatalf("building upload: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return send(t, req)
}

func TestImageUpload(t *testing.T) {
	ts := setupTestServer(t)
	token, _ := ts.signUp(t, "Iza")
	id := ts.listItem(t, token, "Silk scarf")

	res := ts.upload(t, id, token, pngImage(t, 64, 48), false)
	if res.Status != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", res.Status, res.Message)
	}
	var first model.Image
	res.decode(t, &first)
	if !first.IsPrimary || !strings.HasPrefix(first.URL, "/api/images/items/") {
		t.Errorf("unexpected first image: %+v", first)
	}

	resp, err := http.Get(ts.URL + first.URL)
	if err != nil {
		t.Fatalf("fetching image: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("expected jpeg image, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	var second model.Image
	ts.upload(t, id, token, pngImage(t, 32, 32), true).decode(t, &second)

	var it model.Item
	ts.expect(t, http.StatusOK, "GET", fmt.Sprintf("/api/items/%d", id), token, nil).decode(t, &it)
	if len(it.Images) != 2 || it.PrimaryImage().ID != second.ID {
		t.Errorf("expected second image primary: %+v", it.Images)
	}

	var images []model.Image
	ts.expect(t, http.StatusOK, "PUT", fmt.Sprintf("/api/items/%d/images/%d/primary", id, first.ID), token, nil).decode(t, &images)
	for _, img := range images {
		if img.IsPrimary != (img.ID == first.ID) {
			t.Errorf("unexpected primary flags: %+v", images)
		}
	}

	res = ts.upload(t, id, token, []byte("not an image at all"), false)
	if res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for bad image, got %d", res.Status)
	}
}

func TestPointsSwapFlow(t *testing.T) {
	ts := setupTestServer(t)
	owner, ownerID := ts.signUp(t, "Olga")
	requester, _ := ts.signUp(t, "Rok")
	stranger, _ := ts.signUp(t, "Sara")

	item := ts.listItem(t, owner, "Leather boots")
	ts.listItem(t, requester, "Cotton tee") // earns the requester 10 points

	var req model.SwapRequest
	ts.expect(t, http.StatusCreated, "POST", "/api/swaps", requester, map[string]any{
		"itemId": item, "mode": "points", "pointsOffered": 10, "message": "Interested!",
	}).decode(t, &req)
	if req.Status != model.SwapPending || req.ItemOwner != ownerID {
		t.Fatalf("unexpected request: %+v", req)
	}

	path := fmt.Sprintf("/api/swaps/%d", req.ID)
	if res := ts.call(t, "GET", path, stranger, nil); res.Status != http.StatusForbidden {
		t.Errorf("expected 403 for stranger, got %d", res.Status)
	}
	if res := ts.call(t, "GET", "/api/swaps/99999", owner, nil); res.Status != http.StatusNotFound {
		t.Errorf("expected 404 for missing request, got %d", res.Status)
	}
	ts.expect(t, http.StatusOK, "GET", path, ts.adminToken, nil)

	if res := ts.call(t, "PATCH", path+"/accept", requester, nil); res.Status != http.StatusForbidden {
		t.Errorf("expected 403 when requester accepts, got %d", res.Status)
	}
	if res := ts.call(t, "PATCH", path+"/complete", owner, nil); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 completing a pending request, got %d", res.Status)
	}

	ts.expect(t, http.StatusOK, "PATCH", path+"/accept", owner, map[string]string{"responseMessage": "Deal"}).decode(t, &req)
	if req.Status != model.SwapAccepted || req.Response.Message != "Deal" {
		t.Errorf("unexpected accepted request: %+v", req)
	}

	ts.expect(t, http.StatusOK, "PATCH", path+"/complete", requester, map[string]string{"completionNotes": "Met at the market"}).decode(t, &req)
	if req.Status != model.SwapCompleted || req.Transaction.PointsTransferred != 10 {
		t.Errorf("unexpected completed request: %+v", req)
	}

	if p := ts.me(t, requester); p.Points != 0 {
		t.Errorf("expected requester at 0 points, got %d", p.Points)
	}
	if p := ts.me(t, owner); p.Points != 20 {
		t.Errorf("expected owner at 20 points, got %d", p.Points)
	}

	var it model.Item
	ts.expect(t, http.StatusOK, "GET", fmt.Sprintf("/api/items/%d", item), owner, nil).decode(t, &it)
	if it.Availability != model.AvailabilitySwapped {
		t.Errorf("expected item swapped, got %s", it.Availability)
	}

	var stats model.SwapStats
	ts.expect(t, http.StatusOK, "GET", "/api/swaps/stats", owner, nil).decode(t, &stats)
	if stats.ReceivedRequests != 1 || stats.CompletedSwaps != 1 || stats.PointsEarned != 10 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	var list swapsResponse
	ts.expect(t, http.StatusOK, "GET", "/api/swaps/user?type=sent&status=completed", requester, nil).decode(t, &list)
	if len(list.Swaps) != 1 || list.Pagination.Total != 1 {
		t.Errorf("unexpected sent list: %+v", list)
	}
}

func TestSwapErrors(t *testing.T) {
	ts := setupTestServer(t)
	owner, _ := ts.signUp(t, "Tina")
	requester, _ := ts.signUp(t, "Urh")
	item := ts.listItem(t, owner, "Denim jacket")
	offered := ts.listItem(t, requester, "Flannel shirt")

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"missing offered item", map[string]any{"itemId": item, "mode": "swap"}, http.StatusBadRequest},
		{"unknown mode", map[string]any{"itemId": item, "mode": "gift"}, http.StatusBadRequest},
		{"missing item", map[string]any{"itemId": 99999, "mode": "points", "pointsOffered": 5}, http.StatusNotFound},
		{"too many points", map[string]any{"itemId": item, "mode": "points", "pointsOffered": 500}, http.StatusBadRequest},
		{"own item", map[string]any{"itemId": offered, "mode": "points", "pointsOffered": 5}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.call(t, "POST", "/api/swaps", requester, tt.body)
			if res.Status != tt.status {
				t.Errorf("expected %d, got %d (%s)", tt.status, res.Status, res.Message)
			}
			if res.Success || res.Message == "" {
				t.Errorf("expected failure envelope with message, got %+v", res)
			}
		})
	}

	body := map[string]any{"itemId": item, "mode": "swap", "offeredItemId": offered}
	var req model.SwapRequest
	ts.expect(t, http.StatusCreated, "POST", "/api/swaps", requester, body).decode(t, &req)
	if res := ts.call(t, "POST", "/api/swaps", requester, body); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate pending request, got %d", res.Status)
	}

	path := fmt.Sprintf("/api/swaps/%d", req.ID)
	ts.expect(t, http.StatusOK, "PATCH", path+"/decline", owner, nil)
	if res := ts.call(t, "PATCH", path+"/decline", owner, nil); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for second decline, got %d", res.Status)
	}
	if res := ts.call(t, "PATCH", path+"/cancel", requester, nil); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 cancelling a declined request, got %d", res.Status)
	}
	if res := ts.call(t, "PATCH", "/api/swaps/abc/cancel", requester, nil); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", res.Status)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts := setupTestServer(t)
	token, id := ts.signUp(t, "Vid")

	for _, path := range []string{"/api/admin/stats", "/api/admin/items/pending", "/api/users"} {
		if res := ts.call(t, "GET", path, token, nil); res.Status != http.StatusForbidden {
			t.Errorf("GET %s: expected 403, got %d", path, res.Status)
		}
	}

	var stats statsResponse
	ts.expect(t, http.StatusOK, "GET", "/api/admin/stats", ts.adminToken, nil).decode(t, &stats)
	if stats.Users != 2 {
		t.Errorf("expected 2 users, got %d", stats.Users)
	}

	// Promotion takes effect on the existing token.
	ts.expect(t, http.StatusOK, "PUT", fmt.Sprintf("/api/users/%d", id), ts.adminToken, map[string]string{"role": model.RoleAdmin})
	ts.expect(t, http.StatusOK, "GET", "/api/admin/stats", token, nil)
}

func TestReconcileEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	token, id := ts.signUp(t, "Zala")
	ts.listItem(t, token, "Rain jacket")

	// Drift the cache behind the ledger's back.
	if _, err := ts.db.Exec(`UPDATE users SET points = 99 WHERE id = ?`, id); err != nil {
		t.Fatalf("drifting balance: %v", err)
	}

	var rec model.Reconciliation
	ts.expect(t, http.StatusOK, "POST", fmt.Sprintf("/api/users/%d/reconcile?fix=true", id), ts.adminToken, nil).decode(t, &rec)
	if rec.InSync || rec.Cached != 99 || rec.Ledger != DefaultApprovalPoints {
		t.Errorf("unexpected reconciliation: %+v", rec)
	}
	if p := ts.me(t, token); p.Points != DefaultApprovalPoints {
		t.Errorf("expected repaired balance %d, got %d", DefaultApprovalPoints, p.Points)
	}
}

// submitItem creates an item as token's user and leaves it awaiting moderation.
func (ts *testServer) submitItem(t *testing.T, token, title, category string) int64 {
	t.Helper()
	var it model.Item
	ts.expect(t, http.StatusCreated, "POST", "/api/items", token, map[string]any{
		"title": title, "description": "Barely worn", "category": category, "size": "M",
	}).decode(t, &it)
	return it.ID
}

func TestBulkApproveAwardsEachUploader(t *testing.T) {
	ts := setupTestServer(t)
	lara, _ := ts.signUp(t, "Lara")
	mark, _ := ts.signUp(t, "Mark")

	a1 := ts.submitItem(t, lara, "Wool scarf", "accessories")
	a2 := ts.submitItem(t, lara, "Silk blouse", "tops")
	b1 := ts.submitItem(t, mark, "Chinos", "bottoms")
	listed := ts.listItem(t, mark, "Denim jacket")

	ids := []int64{a1, a2, b1, listed, 99999}
	var bulk bulkResponse
	res := ts.expect(t, http.StatusOK, "PATCH", "/api/admin/items/bulk-approve", ts.adminToken, map[string]any{"itemIds": ids})
	res.decode(t, &bulk)
	if bulk.Modified != 3 || res.Message != "3 items approved successfully" {
		t.Errorf("unexpected bulk approval: %+v (%s)", bulk, res.Message)
	}

	if p := ts.me(t, lara); p.Points != 2*DefaultApprovalPoints {
		t.Errorf("expected %d points for two approvals, got %d", 2*DefaultApprovalPoints, p.Points)
	}
	if p := ts.me(t, mark); p.Points != 2*DefaultApprovalPoints {
		t.Errorf("expected %d points for two approvals, got %d", 2*DefaultApprovalPoints, p.Points)
	}

	var ledger ledgerResponse
	ts.expect(t, http.StatusOK, "GET", "/api/users/me/ledger", lara, nil).decode(t, &ledger)
	if len(ledger.Entries) != 2 || !ledger.Reconciliation.InSync {
		t.Errorf("unexpected ledger: %+v %+v", ledger.Entries, ledger.Reconciliation)
	}

	// Repeating the request approves nothing and awards nothing.
	ts.expect(t, http.StatusOK, "PATCH", "/api/admin/items/bulk-approve", ts.adminToken, map[string]any{"itemIds": ids}).decode(t, &bulk)
	if bulk.Modified != 0 {
		t.Errorf("expected no approvals on repeat, got %d", bulk.Modified)
	}
	if p := ts.me(t, lara); p.Points != 2*DefaultApprovalPoints {
		t.Errorf("expected balance unchanged on repeat, got %d", p.Points)
	}

	if res := ts.call(t, "PATCH", "/api/admin/items/bulk-approve", ts.adminToken, map[string]any{"itemIds": []int64{}}); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for empty list, got %d", res.Status)
	}
	if res := ts.call(t, "PATCH", "/api/admin/items/bulk-approve", lara, map[string]any{"itemIds": ids}); res.Status != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", res.Status)
	}
}

func TestBulkRejectOnlyPending(t *testing.T) {
	ts := setupTestServer(t)
	token, _ := ts.signUp(t, "Nina")
	pending := ts.submitItem(t, token, "Loafers", "shoes")
	approved := ts.listItem(t, token, "Raincoat")

	var bulk bulkResponse
	ts.expect(t, http.StatusOK, "PATCH", "/api/admin/items/bulk-reject", ts.adminToken,
		map[string]any{"itemIds": []int64{pending, approved}}).decode(t, &bulk)
	if bulk.Modified != 1 || len(bulk.ItemIDs) != 1 || bulk.ItemIDs[0] != pending {
		t.Errorf("unexpected bulk rejection: %+v", bulk)
	}

	var it model.Item
	ts.expect(t, http.StatusOK, "GET", fmt.Sprintf("/api/items/%d", pending), token, nil).decode(t, &it)
	if it.Availability != model.AvailabilityHidden || it.Approved {
		t.Errorf("expected rejected item hidden, got %+v", it)
	}
	ts.expect(t, http.StatusOK, "GET", fmt.Sprintf("/api/items/%d", approved), "", nil).decode(t, &it)
	if it.Availability != model.AvailabilityAvailable || !it.Approved {
		t.Errorf("expected approved item untouched, got %+v", it)
	}

	var queue itemsResponse
	ts.expect(t, http.StatusOK, "GET", "/api/admin/items/pending", ts.adminToken, nil).decode(t, &queue)
	if len(queue.Items) != 0 {
		t.Errorf("expected empty moderation queue, got %d", len(queue.Items))
	}
}

func TestAdminAllItems(t *testing.T) {
	ts := setupTestServer(t)
	token, _ := ts.signUp(t, "Olga")
	pending := ts.submitItem(t, token, "Cardigan", "tops")
	ts.listItem(t, token, "Denim skirt")

	var all itemsResponse
	ts.expect(t, http.StatusOK, "GET", "/api/admin/items", ts.adminToken, nil).decode(t, &all)
	if all.Pagination.Total != 2 {
		t.Errorf("expected both items, got %d", all.Pagination.Total)
	}

	ts.expect(t, http.StatusOK, "GET", "/api/admin/items?approved=false", ts.adminToken, nil).decode(t, &all)
	if len(all.Items) != 1 || all.Items[0].ID != pending {
		t.Errorf("expected only the pending item, got %+v", all.Items)
	}
	ts.expect(t, http.StatusOK, "GET", "/api/admin/items?q=denim", ts.adminToken, nil).decode(t, &all)
	if len(all.Items) != 1 || all.Items[0].Title != "Denim skirt" {
		t.Errorf("expected search to match the skirt, got %+v", all.Items)
	}

	if res := ts.call(t, "GET", "/api/admin/items?approved=maybe", ts.adminToken, nil); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed approved filter, got %d", res.Status)
	}
	if res := ts.call(t, "GET", "/api/admin/items?availability=lost", ts.adminToken, nil); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown availability, got %d", res.Status)
	}
}

func TestAdminUserStats(t *testing.T) {
	ts := setupTestServer(t)
	token, _ := ts.signUp(t, "Petra")
	_, suspended := ts.signUp(t, "Rok")
	_, deleted := ts.signUp(t, "Sara")
	ts.listItem(t, token, "Velvet blazer")
	ts.listItem(t, token, "Pleated skirt")

	ts.expect(t, http.StatusOK, "PUT", fmt.Sprintf("/api/users/%d/status", suspended), ts.adminToken, map[string]string{"status": model.UserStatusSuspended})
	ts.expect(t, http.StatusNoContent, "DELETE", fmt.Sprintf("/api/users/%d", deleted), ts.adminToken, nil)

	var stats store.UserStats
	ts.expect(t, http.StatusOK, "GET", "/api/admin/users/stats", ts.adminToken, nil).decode(t, &stats)
	if stats.Total != 4 || stats.Active != 2 || stats.Suspended != 1 || stats.Deleted != 1 {
		t.Errorf("unexpected overview: %+v", stats)
	}
	if stats.Roles[model.RoleAdmin] != 1 || stats.Roles[model.RoleUser] != 2 {
		t.Errorf("unexpected role split: %+v", stats.Roles)
	}
	if len(stats.Registrations) != 1 || stats.Registrations[0].Count != 4 {
		t.Errorf("unexpected registrations: %+v", stats.Registrations)
	}
	if len(stats.MostActive) == 0 || stats.MostActive[0].Name != "Petra" || stats.MostActive[0].ItemCount != 2 {
		t.Errorf("unexpected most active users: %+v", stats.MostActive)
	}
}

func TestResetPassword(t *testing.T) {
	ts := setupTestServer(t)
	_, id := ts.signUp(t, "Tara")
	path := fmt.Sprintf("/api/admin/users/%d/reset-password", id)

	var reset resetPasswordResponse
	ts.expect(t, http.StatusOK, "PATCH", path, ts.adminToken, nil).decode(t, &reset)
	if reset.UserID != id || len(reset.TemporaryPassword) < model.MinPasswordLength {
		t.Fatalf("unexpected reset response: %+v", reset)
	}
	ts.login(t, "tara@example.com", reset.TemporaryPassword)
	if res := ts.call(t, "POST", "/api/auth/login", "", map[string]string{"email": "tara@example.com", "password": "password123"}); res.Status != http.StatusUnauthorized {
		t.Errorf("expected old password rejected, got %d", res.Status)
	}

	ts.expect(t, http.StatusOK, "PATCH", path, ts.adminToken, map[string]string{"temporaryPassword": "chosen-by-admin"})
	ts.login(t, "tara@example.com", "chosen-by-admin")

	if res := ts.call(t, "PATCH", path, ts.adminToken, map[string]string{"temporaryPassword": "short"}); res.Status != http.StatusBadRequest {
		t.Errorf("expected 400 for weak password, got %d", res.Status)
	}
	if res := ts.call(t, "PATCH", "/api/admin/users/99999/reset-password", ts.adminToken, nil); res.Status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", res.Status)
	}
}

func TestItemDashboard(t *testing.T) {
	ts := setupTestServer(t)
	token, _ := ts.signUp(t, "Ula")
	fan, _ := ts.signUp(t, "Vesna")

	jacket := ts.listItem(t, token, "Bomber jacket")
	ts.listItem(t, token, "Striped tee")
	ts.submitItem(t, token, "Ankle boots", "shoes")

	ts.expect(t, http.StatusOK, "GET", fmt.Sprintf("/api/items/%d", jacket), fan, nil)
	ts.expect(t, http.StatusOK, "POST", fmt.Sprintf("/api/items/%d/like", jacket), fan, nil)
	if _, err := ts.db.Exec(`UPDATE items SET availability = 'hidden' WHERE id = ?`, jacket); err != nil {
		t.Fatalf("hiding item: %v", err)
	}

	var d dashboardResponse
	ts.expect(t, http.StatusOK, "GET", "/api/items/dashboard/stats", token, nil).decode(t, &d)
	if d.Total != 3 || d.Available != 2 || d.Hidden != 1 || d.Swapped != 0 {
		t.Errorf("unexpected availability counts: %+v", d.ItemDashboard)
	}
	if d.Views != 1 || d.Likes != 1 || d.Recent != 3 {
		t.Errorf("unexpected activity: %+v", d.ItemDashboard)
	}
	if len(d.Categories) != 2 || d.Categories[0].Category != "tops" || d.Categories[0].Count != 2 {
		t.Errorf("unexpected categories: %+v", d.Categories)
	}
	if d.UserPoints != 2*DefaultApprovalPoints {
		t.Errorf("expected %d points, got %d", 2*DefaultApprovalPoints, d.UserPoints)
	}
}
