package logins

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/storage"
)

// Store is the local CRUD surface for the logins collection: add, update,
// delete, touch and bulk import against the overlay/mirror tables,
// grounded on spec.md §4.1. Every method runs in its own transaction;
// reconcile.go drives the larger incoming-sync transaction directly
// through the package-level query helpers instead.
type Store struct {
	db  *sql.DB
	now func() int64
}

// NewStore builds a Store bound to db's write connection.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db.Write, now: storage.NowMillis}
}

// Add implements spec.md §4.1's add operation: fixup, dedupe-check,
// assign an identifier if blank, default missing timestamps to now, and
// insert with status New.
func (s *Store) Add(ctx context.Context, in Login) (string, error) {
	fixed, err := ValidateAndFixup(in)
	if err != nil {
		return "", err
	}

	var id string
	err = storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		candidates, err := listCandidates(ctx, tx)
		if err != nil {
			return err
		}
		if err := dedupeCheckErr(fixed, candidates); err != nil {
			return err
		}

		if fixed.ID == "" {
			guid, err := storage.NewGUID()
			if err != nil {
				return err
			}
			fixed.ID = guid
		}
		id = fixed.ID

		now := s.now()
		if fixed.TimeCreated == 0 {
			fixed.TimeCreated = now
		}
		if fixed.TimeLastUsed == 0 {
			fixed.TimeLastUsed = fixed.TimeCreated
		}
		if fixed.TimePasswordChanged == 0 {
			fixed.TimePasswordChanged = fixed.TimeCreated
		}
		if fixed.TimesUsed == 0 {
			fixed.TimesUsed = 1
		}

		return insertLocal(ctx, tx, LocalLogin{
			Login:         fixed,
			LocalModified: now,
			SyncStatus:    StatusNew,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ensureOverlay returns the overlay row for id, cloning it from the
// mirror at the given status if no overlay row exists yet. Returns
// ErrNoSuchRecord if id exists in neither table.
func ensureOverlay(ctx context.Context, tx *sql.Tx, id string, status SyncStatus, now int64) (LocalLogin, error) {
	local, err := getLocal(ctx, tx, id)
	if err != nil {
		return LocalLogin{}, err
	}
	if local != nil {
		return *local, nil
	}

	mirror, err := getMirror(ctx, tx, id)
	if err != nil {
		return LocalLogin{}, err
	}
	if mirror == nil {
		return LocalLogin{}, ErrNoSuchRecord
	}

	cloned := cloneFromMirror(*mirror, status, now)
	if err := insertLocal(ctx, tx, cloned); err != nil {
		return LocalLogin{}, err
	}
	if err := setMirrorOverridden(ctx, tx, id, true); err != nil {
		return LocalLogin{}, err
	}
	return cloned, nil
}

// bumpStatus implements "status becomes max(current, Changed)" as the
// business rule it actually has to be: New means "never had a mirror
// row" (invariant 4) and must stay New, since a numeric max would
// incorrectly promote it. Changed and Synced both become Changed.
func bumpStatus(current SyncStatus) SyncStatus {
	if current == StatusNew {
		return StatusNew
	}
	return StatusChanged
}

// Update implements spec.md §4.1's update operation.
func (s *Store) Update(ctx context.Context, in Login) error {
	fixed, err := ValidateAndFixup(in)
	if err != nil {
		return err
	}
	if fixed.ID == "" {
		return ErrNoSuchRecord
	}

	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		candidates, err := listCandidates(ctx, tx)
		if err != nil {
			return err
		}
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.ID != fixed.ID {
				filtered = append(filtered, c)
			}
		}
		if err := dedupeCheckErr(fixed, filtered); err != nil {
			return err
		}

		now := s.now()
		existing, err := ensureOverlay(ctx, tx, fixed.ID, StatusSynced, now)
		if err != nil {
			return err
		}

		passwordChanged := existing.Password != fixed.Password
		updated := existing
		updated.Login = fixed
		updated.LocalModified = now
		updated.TimesUsed = existing.TimesUsed + 1
		if passwordChanged {
			updated.TimePasswordChanged = now
		} else {
			updated.TimePasswordChanged = existing.TimePasswordChanged
		}
		updated.SyncStatus = bumpStatus(existing.SyncStatus)

		return upsertLocal(ctx, tx, updated)
	})
}

// Delete implements spec.md §4.1's delete operation: ensure the overlay
// exists, clear sensitive fields, mark it a tombstone at status Changed,
// and mark the mirror row overridden if one exists.
func (s *Store) Delete(ctx context.Context, id string) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now()
		mirror, err := getMirror(ctx, tx, id)
		if err != nil {
			return err
		}
		if mirror == nil {
			if local, err := getLocal(ctx, tx, id); err != nil {
				return err
			} else if local == nil {
				return ErrNoSuchRecord
			}
		}

		tomb, err := ensureOverlay(ctx, tx, id, StatusChanged, now)
		if err != nil {
			return err
		}
		tomb.Password = ""
		tomb.Username = ""
		tomb.UsernameField = ""
		tomb.PasswordField = ""
		tomb.IsDeleted = true
		tomb.LocalModified = now
		tomb.SyncStatus = StatusChanged

		if err := upsertLocal(ctx, tx, tomb); err != nil {
			return err
		}
		if mirror != nil {
			if err := setMirrorOverridden(ctx, tx, id, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// Touch implements spec.md §4.1's touch operation: records a use of the
// login (times_used, last_used) without advancing sync status, since a
// usage bump alone is not worth a server round trip.
func (s *Store) Touch(ctx context.Context, id string) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now()
		existing, err := ensureOverlay(ctx, tx, id, StatusSynced, now)
		if err != nil {
			return err
		}
		existing.TimesUsed++
		existing.TimeLastUsed = now
		existing.LocalModified = now
		return upsertLocal(ctx, tx, existing)
	})
}

// ImportResult reports the outcome of a bulk import per spec.md §4.1.
type ImportResult struct {
	Processed int
	Succeeded int
	Failed    int
	Errors    []string
}

// Import bulk-loads records into empty overlay/mirror tables. Each
// record is fixed up and dedupe-checked against both the existing table
// contents (empty, by precondition) and the records already accepted
// earlier in the same batch.
func (s *Store) Import(ctx context.Context, records []Login) (ImportResult, error) {
	result := ImportResult{Processed: len(records)}

	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		n, err := countAll(ctx, tx)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrImportNotEmpty
		}

		var accepted []Login
		now := s.now()
		for _, rec := range records {
			fixed, err := ValidateAndFixup(rec)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			if err := dedupeCheckErr(fixed, accepted); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err.Error())
				continue
			}

			if fixed.ID == "" {
				guid, err := storage.NewGUID()
				if err != nil {
					return err
				}
				fixed.ID = guid
			}
			if fixed.TimeCreated == 0 {
				fixed.TimeCreated = now
			}
			if fixed.TimeLastUsed == 0 {
				fixed.TimeLastUsed = fixed.TimeCreated
			}
			if fixed.TimePasswordChanged == 0 {
				fixed.TimePasswordChanged = fixed.TimeCreated
			}
			if fixed.TimesUsed == 0 {
				fixed.TimesUsed = 1
			}

			if err := insertLocal(ctx, tx, LocalLogin{
				Login:         fixed,
				LocalModified: now,
				SyncStatus:    StatusNew,
			}); err != nil {
				return err
			}
			accepted = append(accepted, fixed)
			result.Succeeded++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return result, nil
}

// MarkAsSynchronized implements the post-upload promotion step: every
// confirmed id's overlay row is folded into the mirror at serverModified
// and the overlay row is cleared, per spec.md §4's mark_as_synchronized.
func (s *Store) MarkAsSynchronized(ctx context.Context, confirmed []string, serverModified int64) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, id := range confirmed {
			local, err := getLocal(ctx, tx, id)
			if err != nil {
				return err
			}
			if local == nil {
				return errRowVanished
			}
			if local.IsDeleted {
				if err := deleteMirror(ctx, tx, id); err != nil {
					return err
				}
				if err := deleteLocal(ctx, tx, id); err != nil {
					return err
				}
				continue
			}
			if err := upsertMirror(ctx, tx, MirrorLogin{
				Login:          local.Login,
				ServerModified: serverModified,
				IsOverridden:   false,
			}); err != nil {
				return err
			}
			if err := deleteLocal(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}
