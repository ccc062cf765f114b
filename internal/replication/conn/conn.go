// Package conn wraps the PostgreSQL logical replication connection: system
// identification, replication slot lifecycle, standby status updates and
// the client-side fsync_lsn/taking_snapshot state the checkpoint engine
// and backpressure loop advance.
package conn

import (
	"context"
	"fmt"
	"time"

	"github.com/go-errors/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/bottledwater/bwkafka/internal/logging"
)

const outputPlugin = "pgoutput"

// Conn owns the single replication-protocol connection to PostgreSQL. It
// is touched only from the event-loop goroutine.
type Conn struct {
	logger *logging.Logger

	connString   string
	slotName     string
	createSlot   bool
	autoDropSlot bool

	pg                     *pgconn.PgConn
	identification         pglogrepl.IdentifySystemResult
	replicationSlotCreated bool

	fsyncLSN       uint64
	takingSnapshot bool
}

func New(ctx context.Context, connString, slotName string, createSlot, autoDropSlot bool) (*Conn, error) {
	c := &Conn{
		logger:       logging.NewLogger("ReplicationConnection"),
		connString:   connString,
		slotName:     slotName,
		createSlot:   createSlot,
		autoDropSlot: autoDropSlot,
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	identification, err := pglogrepl.IdentifySystem(ctx, c.pg)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("identifying system: %w", err), 0)
	}
	c.identification = identification
	c.logger.Infof("system id: %s, timeline: %d, xlog pos: %s, database: %s",
		identification.SystemID, identification.Timeline, identification.XLogPos, identification.DBName)

	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	cfg, err := pgconn.ParseConfig(c.connString)
	if err != nil {
		return errors.Wrap(fmt.Errorf("parsing connection string: %w", err), 0)
	}
	cfg.RuntimeParams["replication"] = "database"

	pg, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return errors.Wrap(fmt.Errorf("connecting to postgres: %w", err), 0)
	}
	c.pg = pg
	return nil
}

// FsyncLSN implements checkpoint.State.
func (c *Conn) FsyncLSN() uint64 { return c.fsyncLSN }

// SetFsyncLSN implements checkpoint.State.
func (c *Conn) SetFsyncLSN(lsn uint64) { c.fsyncLSN = lsn }

// ClearTakingSnapshot implements checkpoint.State.
func (c *Conn) ClearTakingSnapshot() { c.takingSnapshot = false }

// TakingSnapshot reports whether the initial table snapshot is still in
// flight - true once this run has created the replication slot, until the
// snapshot transaction's synthetic commit is checkpointed (or the snapshot
// is skipped). It stays false when the slot already existed.
func (c *Conn) TakingSnapshot() bool { return c.takingSnapshot }

// ReceiveMessage reads the next replication protocol message, returning
// (nil, nil) on a deadline timeout so callers can run a backpressure/
// keepalive iteration and retry.
func (c *Conn) ReceiveMessage(deadline time.Time) (pgproto3.BackendMessage, error) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	msg, err := c.pg.ReceiveMessage(ctx)
	if err != nil {
		if pgconn.Timeout(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("receiving replication message: %w", err)
	}
	return msg, nil
}

// SendStandbyStatusUpdate implements backpressure.Keepaliver, reporting
// the current fsync_lsn as both write and flush position.
func (c *Conn) SendStandbyStatusUpdate() error {
	pos := pglogrepl.LSN(c.fsyncLSN)
	if err := pglogrepl.SendStandbyStatusUpdate(context.Background(), c.pg, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: pos,
		WALFlushPosition: pos,
		WALApplyPosition: pos,
	}); err != nil {
		return fmt.Errorf("sending standby status update: %w", err)
	}
	return nil
}

// StartReplication begins streaming from restartLSN with the given
// pgoutput plugin arguments, retrying once after a reconnect if the
// server rejects the first attempt.
func (c *Conn) StartReplication(ctx context.Context, restartLSN pglogrepl.LSN, pluginArguments []string) error {
	opts := pglogrepl.StartReplicationOptions{PluginArgs: pluginArguments}
	if err := pglogrepl.StartReplication(ctx, c.pg, c.slotName, restartLSN, opts); err != nil {
		if rerr := c.connect(ctx); rerr != nil {
			return errors.Wrap(rerr, 0)
		}
		return pglogrepl.StartReplication(ctx, c.pg, c.slotName, restartLSN, opts)
	}
	c.fsyncLSN = uint64(restartLSN)
	return nil
}

func (c *Conn) StopReplication() error {
	_, err := pglogrepl.SendStandbyCopyDone(context.Background(), c.pg)
	if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == pgerrcode.InternalError {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

// CreateReplicationSlot creates the slot if configured to and it does not
// already exist, exporting a snapshot for the initial table copy.
func (c *Conn) CreateReplicationSlot(ctx context.Context) (slotName, snapshotName string, created bool, err error) {
	if !c.createSlot {
		return c.slotName, "", false, nil
	}

	slot, err := pglogrepl.CreateReplicationSlot(ctx, c.pg, c.slotName, outputPlugin,
		pglogrepl.CreateReplicationSlotOptions{SnapshotAction: "EXPORT_SNAPSHOT"})
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == pgerrcode.DuplicateObject {
			return c.slotName, "", false, nil
		}
		return "", "", false, errors.Wrap(fmt.Errorf("creating replication slot %s: %w", c.slotName, err), 0)
	}

	c.replicationSlotCreated = true
	c.takingSnapshot = true
	return slot.SlotName, slot.SnapshotName, true, nil
}

func (c *Conn) DropReplicationSlot() error {
	if !c.replicationSlotCreated || !c.autoDropSlot {
		return nil
	}
	if err := pglogrepl.DropReplicationSlot(context.Background(), c.pg, c.slotName,
		pglogrepl.DropReplicationSlotOptions{Wait: true}); err != nil {
		return errors.Wrap(fmt.Errorf("dropping replication slot %s: %w", c.slotName, err), 0)
	}
	c.logger.Infoln("dropped replication slot", c.slotName)
	return nil
}

func (c *Conn) Close() error {
	return c.pg.Close(context.Background())
}
