package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/rewear/internal/db"
	"github.com/erazemk/rewear/internal/model"
)

const itemColumns = `i.id, i.title, i.description, i.category, i.type, i.size, i.condition,
	i.brand, i.tags, i.uploader_id, i.availability, i.approved, i.points, i.swap_count,
	i.views, i.created_at, i.updated_at, u.name,
	(SELECT COUNT(*) FROM item_likes l WHERE l.item_id = i.id)`

const itemFrom = ` FROM items i JOIN users u ON u.id = i.uploader_id`

func scanItem(row rowScanner) (*model.Item, error) {
	it := &model.Item{}
	var typ, brand sql.NullString
	var tags string
	err := row.Scan(&it.ID, &it.Title, &it.Description, &it.Category, &typ, &it.Size, &it.Condition,
		&brand, &tags, &it.UploaderID, &it.Availability, &it.Approved, &it.Points, &it.SwapCount,
		&it.Views, &it.CreatedAt, &it.UpdatedAt, &it.UploaderName, &it.LikeCount)
	if err != nil {
		return nil, err
	}
	it.Type = typ.String
	it.Brand = brand.String
	if err := json.Unmarshal([]byte(tags), &it.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	if it.Tags == nil {
		it.Tags = []string{}
	}
	it.Images = []model.Image{}
	return it, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateItem inserts an item together with its images. The primary image rule
// is applied before saving.
func CreateItem(ctx context.Context, q Querier, it *model.Item) (*model.Item, error) {
	tags, err := encodeTags(it.Tags)
	if err != nil {
		return nil, err
	}
	availability := it.Availability
	if availability == "" {
		availability = model.AvailabilityAvailable
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO items (title, description, category, type, size, condition, brand, tags,
		                    uploader_id, availability, approved, points)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.Title, it.Description, it.Category, nullString(it.Type), it.Size, it.Condition,
		nullString(it.Brand), tags, it.UploaderID, availability, boolInt(it.Approved), it.Points,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	model.NormalizePrimary(it.Images)
	for pos, img := range it.Images {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO item_images (item_id, position, url, alt, is_primary) VALUES (?, ?, ?, ?, ?)`,
			id, pos, img.URL, img.Alt, boolInt(img.IsPrimary),
		); err != nil {
			return nil, fmt.Errorf("adding item image: %w", err)
		}
	}

	return GetItem(ctx, q, id)
}

// GetItem returns an item with its images by ID.
func GetItem(ctx context.Context, q Querier, id int64) (*model.Item, error) {
	it, err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+itemFrom+` WHERE i.id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	it.Images, err = ListItemImages(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// ListItemImages returns an item's images in upload order.
func ListItemImages(ctx context.Context, q Querier, itemID int64) ([]model.Image, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, url, alt, is_primary FROM item_images WHERE item_id = ? ORDER BY position, id`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing item images: %w", err)
	}
	defer rows.Close()

	images := []model.Image{}
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(&img.ID, &img.URL, &img.Alt, &img.IsPrimary); err != nil {
			return nil, fmt.Errorf("scanning item image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// ItemFilter narrows item listings. Zero values match everything.
type ItemFilter struct {
	Category     string
	Size         string
	Condition    string
	Search       string
	UploaderID   int64
	Availability string
	// Approved filters by moderation state when non-nil.
	Approved *bool
	Page     Page
}

func (f ItemFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg ...any) {
		conds = append(conds, cond)
		args = append(args, arg...)
	}

	if f.Category != "" {
		add("i.category = ?", f.Category)
	}
	if f.Size != "" {
		add("i.size = ?", f.Size)
	}
	if f.Condition != "" {
		add("i.condition = ?", f.Condition)
	}
	if f.UploaderID != 0 {
		add("i.uploader_id = ?", f.UploaderID)
	}
	if f.Availability != "" {
		add("i.availability = ?", f.Availability)
	}
	if f.Approved != nil {
		add("i.approved = ?", boolInt(*f.Approved))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		add("(LOWER(i.title) LIKE ? OR LOWER(i.description) LIKE ? OR LOWER(i.tags) LIKE ? OR LOWER(COALESCE(i.brand, '')) LIKE ?)",
			like, like, like, like)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListItems returns a page of items matching f, newest first, and the total
// number of matches. Images are included.
func ListItems(ctx context.Context, q Querier, f ItemFilter) ([]model.Item, int, error) {
	where, args := f.where()

	var total int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items i`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting items: %w", err)
	}

	page := f.Page
	if page.Limit == 0 {
		page = NewPage(1, DefaultPageSize)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+itemFrom+where+` ORDER BY i.created_at DESC, i.id DESC LIMIT ? OFFSET ?`,
		append(args, page.Limit, page.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing items: %w", err)
	}

	items := []model.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing items: %w", err)
	}

	for i := range items {
		if items[i].Images, err = ListItemImages(ctx, q, items[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// ListItemsByOwner returns all items uploaded by ownerID with the given
// availability, or every availability when it is empty.
func ListItemsByOwner(ctx context.Context, q Querier, ownerID int64, availability string) ([]model.Item, error) {
	items, _, err := ListItems(ctx, q, ItemFilter{
		UploaderID:   ownerID,
		Availability: availability,
		Page:         Page{Number: 1, Limit: -1},
	})
	return items, err
}

// UpdateItem saves an item's editable fields. Swapped items are final and
// return ErrItemUnavailable.
func UpdateItem(ctx context.Context, q Querier, it *model.Item) error {
	tags, err := encodeTags(it.Tags)
	if err != nil {
		return err
	}
	result, err := q.ExecContext(ctx,
		`UPDATE items SET title = ?, description = ?, category = ?, type = ?, size = ?,
		        condition = ?, brand = ?, tags = ?, points = ?, availability = ?, updated_at = ?
		 WHERE id = ? AND availability <> 'swapped'`,
		it.Title, it.Description, it.Category, nullString(it.Type), it.Size,
		it.Condition, nullString(it.Brand), tags, it.Points, it.Availability, db.Time(time.Now()),
		it.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	if n == 0 {
		return ErrItemUnavailable
	}
	return nil
}

// SetItemAvailability changes an item's availability.
func SetItemAvailability(ctx context.Context, q Querier, id int64, availability string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET availability = ?, updated_at = ? WHERE id = ?`,
		availability, db.Time(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("setting item availability: %w", err)
	}
	return nil
}

// MarkItemSwapped flips an available item to swapped and counts the swap.
// It returns ErrItemUnavailable when the item is not available anymore.
func MarkItemSwapped(ctx context.Context, q Querier, id int64, at time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE items SET availability = 'swapped', swap_count = swap_count + 1, updated_at = ?
		 WHERE id = ? AND availability = 'available'`,
		db.Time(at), id,
	)
	if err != nil {
		return fmt.Errorf("marking item swapped: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking item swapped: %w", err)
	}
	if n == 0 {
		return ErrItemUnavailable
	}
	return nil
}

// DeleteItem removes an item and its images and likes. Items referenced by a
// swap request are hidden instead so the history stays intact.
func DeleteItem(ctx context.Context, q Querier, id int64) error {
	var refs int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM swap_requests WHERE item_id = ? OR offered_item_id = ?`, id, id,
	).Scan(&refs); err != nil {
		return fmt.Errorf("checking item references: %w", err)
	}
	if refs > 0 {
		return SetItemAvailability(ctx, q, id, model.AvailabilityHidden)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// IncrementItemViews bumps an item's view counter.
func IncrementItemViews(ctx context.Context, q Querier, id int64) error {
	_, err := q.ExecContext(ctx, `UPDATE items SET views = views + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("incrementing item views: %w", err)
	}
	return nil
}

// ToggleItemLike likes or unlikes an item for userID and reports whether the
// item is liked afterwards.
func ToggleItemLike(ctx context.Context, q Querier, itemID, userID int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM item_likes WHERE item_id = ? AND user_id = ?`, itemID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("unliking item: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return false, nil
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO item_likes (item_id, user_id) VALUES (?, ?)`, itemID, userID,
	); err != nil {
		return false, fmt.Errorf("liking item: %w", err)
	}
	return true, nil
}

// AddItemImage appends an image to an item. The first image of an item is
// always primary; a new primary image demotes the previous one.
func AddItemImage(ctx context.Context, q Querier, itemID int64, img model.Image) (*model.Image, error) {
	var count int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM item_images WHERE item_id = ?`, itemID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting item images: %w", err)
	}

	if count == 0 {
		img.IsPrimary = true
	} else if img.IsPrimary {
		if _, err := q.ExecContext(ctx,
			`UPDATE item_images SET is_primary = 0 WHERE item_id = ?`, itemID,
		); err != nil {
			return nil, fmt.Errorf("clearing primary image: %w", err)
		}
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO item_images (item_id, position, url, alt, is_primary) VALUES (?, ?, ?, ?, ?)`,
		itemID, count, img.URL, img.Alt, boolInt(img.IsPrimary),
	)
	if err != nil {
		return nil, fmt.Errorf("adding item image: %w", err)
	}
	img.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting image id: %w", err)
	}
	return &img, nil
}

// SetPrimaryImage makes imageID the only primary image of an item. It reports
// false when the image does not belong to the item.
func SetPrimaryImage(ctx context.Context, q Querier, itemID, imageID int64) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM item_images WHERE id = ? AND item_id = ?`, imageID, itemID,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting item image: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE item_images SET is_primary = (id = ?) WHERE item_id = ?`, imageID, itemID,
	); err != nil {
		return false, fmt.Errorf("setting primary image: %w", err)
	}
	return true, nil
}

// ApproveItem marks a pending item approved. It reports false when the item
// was already approved, so callers award points at most once.
func ApproveItem(ctx context.Context, q Querier, id int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE items SET approved = 1, updated_at = ? WHERE id = ? AND approved = 0`,
		db.Time(time.Now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("approving item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approving item: %w", err)
	}
	return n > 0, nil
}

// RejectItem takes an item out of moderation and hides it.
func RejectItem(ctx context.Context, q Querier, id int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET approved = 0, availability = 'hidden', updated_at = ? WHERE id = ?`,
		db.Time(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("rejecting item: %w", err)
	}
	return nil
}

// ItemCounts summarizes the catalogue for the admin dashboard.
type ItemCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Available int `json:"available"`
	Swapped   int `json:"swapped"`
}

// CountItems returns catalogue totals.
func CountItems(ctx context.Context, q Querier) (*ItemCounts, error) {
	c := &ItemCounts{}
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN approved = 0 AND availability <> 'hidden' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN approved = 1 AND availability = 'available' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN availability = 'swapped' THEN 1 ELSE 0 END), 0)
		 FROM items`,
	).Scan(&c.Total, &c.Pending, &c.Available, &c.Swapped)
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	return c, nil
}

// CategoryCount is the number of items in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ItemDashboard summarizes one uploader's listings.
type ItemDashboard struct {
	Total      int             `json:"totalItems"`
	Available  int             `json:"availableItems"`
	Swapped    int             `json:"swappedItems"`
	Hidden     int             `json:"hiddenItems"`
	Views      int             `json:"totalViews"`
	Likes      int             `json:"totalLikes"`
	Categories []CategoryCount `json:"categoryStats"`
	// Recent counts items listed at or after the since argument.
	Recent int `json:"recentItems"`
}

// GetItemDashboard returns listing totals for uploaderID. Items created at or
// after since count as recent.
func GetItemDashboard(ctx context.Context, q Querier, uploaderID int64, since time.Time) (*ItemDashboard, error) {
	d := &ItemDashboard{Categories: []CategoryCount{}}
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN availability = 'available' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN availability = 'swapped' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN availability = 'hidden' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(views), 0),
		        COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		 FROM items WHERE uploader_id = ?`,
		db.Time(since), uploaderID,
	).Scan(&d.Total, &d.Available, &d.Swapped, &d.Hidden, &d.Views, &d.Recent)
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}

	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM item_likes l JOIN items i ON i.id = l.item_id WHERE i.uploader_id = ?`,
		uploaderID,
	).Scan(&d.Likes); err != nil {
		return nil, fmt.Errorf("counting likes: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM items WHERE uploader_id = ?
		 GROUP BY category ORDER BY COUNT(*) DESC, category`,
		uploaderID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning category count: %w", err)
		}
		d.Categories = append(d.Categories, c)
	}
	return d, rows.Err()
}

// RejectPendingItem rejects an item that is still awaiting moderation. It
// reports false when the item is missing, approved, swapped or already hidden.
func RejectPendingItem(ctx context.Context, q Querier, id int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE items SET availability = 'hidden', updated_at = ?
		 WHERE id = ? AND approved = 0 AND availability = 'available'`,
		db.Time(time.Now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("rejecting item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rejecting item: %w", err)
	}
	return n > 0, nil
}
