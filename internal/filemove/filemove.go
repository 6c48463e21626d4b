package filemove

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"github.com/cuemby/cos/internal/domain"
	"github.com/cuemby/cos/internal/errs"
	"github.com/cuemby/cos/internal/kvstore"
	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
	"github.com/cuemby/cos/internal/repo"
)

// registrationTTL bounds how long a Register call's reservation survives
// without a matching Execute before it's swept as abandoned.
const registrationTTL = time.Hour

// Pipeline is the File Move Pipeline.
type Pipeline struct {
	metas    repo.FileMetaRepo
	storages repo.FileStorageRepo
	netdisks repo.NetDiskRepo
	snaps    repo.SnapshotRepo
	moveregs *kvstore.MoveRegistrationStore
	broker   repo.StorageBroker
	servers  []domain.StorageServer
}

// New builds a Pipeline. servers is the pool Execute uploads to; the first
// server is used unless a future policy narrows it (multi-server placement
// is otherwise unspecified beyond "an object-storage client").
func New(metas repo.FileMetaRepo, storages repo.FileStorageRepo, netdisks repo.NetDiskRepo, snaps repo.SnapshotRepo, moveregs *kvstore.MoveRegistrationStore, broker repo.StorageBroker, servers []domain.StorageServer) *Pipeline {
	return &Pipeline{metas: metas, storages: storages, netdisks: netdisks, snaps: snaps, moveregs: moveregs, broker: broker, servers: servers}
}

// Register reserves a pending move. If hash/hashAlgorithm already names a
// FileMeta with at least one storage binding, it short-circuits with
// errs.FlashUpload instead of persisting a registration — the caller never
// needs to Execute.
func (p *Pipeline) Register(ctx context.Context, userID, fileName, hash string, algo domain.HashAlgorithm, size int64, dest domain.MoveDestination) (string, error) {
	if hash != "" {
		if existing, err := p.metas.GetByHashAndAlgorithm(ctx, hash, algo); err == nil && existing != nil {
			if bound, err := p.storages.ListByMeta(ctx, existing.ID); err == nil && len(bound) > 0 {
				metrics.FlashUploadsTotal.Inc()
				if dest.Kind == domain.DestinationStorageServer && dest.RecordNetDisk {
					if err := p.recordNetDisk(ctx, userID, existing.ID, hash, dest); err != nil {
						return "", err
					}
				}
				return "", errs.NewFlashUpload(existing.ID)
			}
		}
	}

	reg := domain.MoveRegistration{
		ID:            uuid.NewString(),
		UserID:        userID,
		FileName:      fileName,
		Hash:          hash,
		HashAlgorithm: algo,
		Size:          size,
		Destination:   dest,
		Status:        domain.TaskStandby,
	}
	if err := p.moveregs.Put(reg, registrationTTL); err != nil {
		return "", errs.Wrap(errs.Transient, "failed to persist move registration", err)
	}
	return reg.ID, nil
}

// Execute uploads data for a previously-Registered move, verifies its hash,
// and lands it at the registration's destination.
func (p *Pipeline) Execute(ctx context.Context, regID string, data []byte) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MoveExecuteDuration)

	reg, ok, err := p.moveregs.Get(regID)
	if err != nil {
		return errs.Wrap(errs.Transient, "failed to read move registration", err)
	}
	if !ok {
		return errs.NewNotFound("no move registration " + regID)
	}

	sum := blake3Hex(data)
	if reg.Hash != "" && reg.Hash != sum {
		_ = p.moveregs.Delete(regID)
		return errs.NewUnmatchedHash(reg.Hash, sum)
	}
	reg.Hash = sum
	reg.HashAlgorithm = domain.HashBlake3

	// A concurrent Register/Execute for the same content may have landed
	// first; if so this call becomes a flash upload too.
	if existing, err := p.metas.GetByHashAndAlgorithm(ctx, reg.Hash, reg.HashAlgorithm); err == nil && existing != nil {
		if bound, err := p.storages.ListByMeta(ctx, existing.ID); err == nil && len(bound) > 0 {
			metrics.FlashUploadsTotal.Inc()
			_ = p.moveregs.Delete(regID)
			if reg.Destination.Kind == domain.DestinationStorageServer && reg.Destination.RecordNetDisk {
				return p.recordNetDisk(ctx, reg.UserID, existing.ID, reg.Hash, reg.Destination)
			}
			return nil
		}
	}

	server := p.chooseServer()
	if server.URL == "" {
		return errs.Wrap(errs.Fatal, "no storage server configured for move pipeline", nil)
	}

	meta := &domain.FileMeta{
		ID:            uuid.NewString(),
		Name:          reg.FileName,
		Hash:          reg.Hash,
		HashAlgorithm: reg.HashAlgorithm,
		Size:          int64(len(data)),
	}

	switch reg.Destination.Kind {
	case domain.DestinationSnapshot:
		return p.executeSnapshot(ctx, meta, reg, data, server)
	default:
		return p.executeStorageServer(ctx, meta, reg, data, server)
	}
}

func (p *Pipeline) executeStorageServer(ctx context.Context, meta *domain.FileMeta, reg domain.MoveRegistration, data []byte, server domain.StorageServer) error {
	key := string(meta.HashAlgorithm) + "/" + meta.Hash
	if err := p.broker.Upload(ctx, server.URL, key, data); err != nil {
		reg.IsUploadFailed = true
		reg.FailedReason = err.Error()
		_ = p.moveregs.Put(reg, registrationTTL)
		return errs.Wrap(errs.Transient, "upload to storage server failed", err)
	}

	if err := p.metas.Create(ctx, meta); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist file meta", err)
	}
	if err := p.storages.Create(ctx, &domain.FileStorage{StorageServerID: server.ID, MetaID: meta.ID, ServerURL: server.URL}); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist file storage", err)
	}

	if reg.Destination.RecordNetDisk {
		if err := p.recordNetDisk(ctx, reg.UserID, meta.ID, meta.Hash, reg.Destination); err != nil {
			return err
		}
	}

	_ = p.moveregs.Delete(reg.ID)
	logx.WithComponent("filemove").Info().Str("meta_id", meta.ID).Str("hash", meta.Hash).Msg("move executed")
	return nil
}

func (p *Pipeline) executeSnapshot(ctx context.Context, meta *domain.FileMeta, reg domain.MoveRegistration, data []byte, server domain.StorageServer) error {
	key := string(meta.HashAlgorithm) + "/" + meta.Hash
	if err := p.broker.Upload(ctx, server.URL, key, data); err != nil {
		return errs.Wrap(errs.Transient, "upload to storage server failed", err)
	}
	if err := p.metas.Create(ctx, meta); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist file meta", err)
	}
	if err := p.storages.Create(ctx, &domain.FileStorage{StorageServerID: server.ID, MetaID: meta.ID, ServerURL: server.URL}); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist file storage", err)
	}

	snap := &domain.Snapshot{
		ID:            uuid.NewString(),
		MetaID:        meta.ID,
		NodeID:        reg.Destination.NodeID,
		FileID:        reg.Destination.FileID,
		Timestamp:     reg.Destination.Timestamp,
		FileName:      reg.FileName,
		Size:          meta.Size,
		Hash:          meta.Hash,
		HashAlgorithm: meta.HashAlgorithm,
	}
	if err := p.snaps.Create(ctx, snap); err != nil {
		return errs.Wrap(errs.Transient, "failed to persist snapshot", err)
	}

	_ = p.moveregs.Delete(reg.ID)
	return nil
}

func (p *Pipeline) chooseServer() domain.StorageServer {
	if len(p.servers) == 0 {
		return domain.StorageServer{}
	}
	return p.servers[0]
}

func blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
