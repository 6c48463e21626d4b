package filemove

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
)

// recordNetDisk binds meta to a user-visible (parent_id, name) path, the
// same way Warren's local volume driver binds a directory per volume id: a
// name collision at the same parent is resolved
// by suffixing the new entry's name with a slice of its hash rather than
// overwriting the existing binding, since two different files can
// legitimately want the same display name.
func (p *Pipeline) recordNetDisk(ctx context.Context, userID, metaID, hash string, dest domain.MoveDestination) error {
	name := dest.NetDiskName
	existing, err := p.netdisks.GetByParentAndName(ctx, dest.NetDiskParentID, name)
	if err == nil && existing != nil {
		if existing.MetaID == metaID {
			existing.LastModified = time.Now()
			if err := p.netdisks.Upsert(ctx, existing); err != nil {
				return errs.Wrap(errs.Transient, "failed to touch net disk entry", err)
			}
			return nil
		}
		name = dedupedName(name, hash)
	}

	entry := &domain.NetDiskEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		ParentID:     dest.NetDiskParentID,
		Name:         name,
		MetaID:       metaID,
		Hash:         hash,
		LastModified: time.Now(),
	}
	if err := p.netdisks.Upsert(ctx, entry); err != nil {
		return errs.Wrap(errs.Transient, "failed to record net disk entry", err)
	}
	return nil
}

// dedupedName appends a short hash suffix before the file extension, e.g.
// "report.csv" + "ab12cd34..." -> "report-ab12cd34.csv".
func dedupedName(name, hash string) string {
	suffix := hash
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}

	ext := ""
	base := name
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i:]
	}
	return base + "-" + suffix + ext
}
