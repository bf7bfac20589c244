package bookmarks

import (
	"context"
	"hash/fnv"
)

// tagID is a stable integer surrogate for a tag name, used as the
// summation oracle from spec.md §4.2: comparing two sums is cheaper than
// comparing two sorted tag lists, and collisions are acceptable here
// since a false match only skips a Reupload flag that a later pass would
// still catch once genuinely divergent tags push the sums apart.
func tagID(tag string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	return int64(h.Sum64() >> 1) // keep it positive-ish; sign doesn't matter for sum equality
}

// RunStructuralValidityPrePass scans the mirror for tag inconsistencies:
// bookmarks sharing a URL must share a tag set. It computes the tag-sum
// per URL (from the canonical bookmarks_tags table) and per item (from
// bookmark_item_tags, the tags that item's own incoming record claimed),
// and flags any mirror item whose sum disagrees by marking it Reupload.
func RunStructuralValidityPrePass(ctx context.Context, q Queryer) error {
	urlSums, err := sumTagsByURL(ctx, q)
	if err != nil {
		return err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, place_id FROM bookmarks_mirror WHERE place_id != '' AND kind = 'bookmark'`)
	if err != nil {
		return err
	}
	type itemRef struct{ id, placeID string }
	var items []itemRef
	for rows.Next() {
		var ref itemRef
		if err := rows.Scan(&ref.id, &ref.placeID); err != nil {
			rows.Close()
			return err
		}
		items = append(items, ref)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, it := range items {
		itemSum, err := sumItemTags(ctx, q, it.id)
		if err != nil {
			return err
		}
		urlSum := urlSums[it.placeID]
		if itemSum != urlSum {
			if _, err := q.ExecContext(ctx, `UPDATE bookmarks_mirror SET validity = ? WHERE id = ?`,
				string(ValidityReupload), it.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func sumTagsByURL(ctx context.Context, q Queryer) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT place_id, tag FROM bookmarks_tags`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[string]int64)
	for rows.Next() {
		var placeID, tag string
		if err := rows.Scan(&placeID, &tag); err != nil {
			return nil, err
		}
		sums[placeID] += tagID(tag)
	}
	return sums, rows.Err()
}

func sumItemTags(ctx context.Context, q Queryer, itemID string) (int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT tag FROM bookmark_item_tags WHERE item_id = ?`, itemID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var sum int64
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return 0, err
		}
		sum += tagID(tag)
	}
	return sum, rows.Err()
}

// CanonicalTagsForURL reconciles an item's claimed tags into the shared
// per-URL tag set (a simple union — the dedup the spec's scenario 4
// exercises) and persists it into bookmarks_tags.
func CanonicalTagsForURL(ctx context.Context, q Queryer, placeID string, claimed []string) ([]string, error) {
	seen := make(map[string]bool)
	existing, err := tagsForURL(ctx, q, placeID)
	if err != nil {
		return nil, err
	}
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range claimed {
		if seen[t] {
			continue
		}
		seen[t] = true
		if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO bookmarks_tags (place_id, tag) VALUES (?, ?)`, placeID, t); err != nil {
			return nil, err
		}
	}
	return tagsForURL(ctx, q, placeID)
}

func tagsForURL(ctx context.Context, q Queryer, placeID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT tag FROM bookmarks_tags WHERE place_id = ? ORDER BY tag`, placeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
