package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	xerrors "ChainPact/internal/errors"
	"ChainPact/internal/security"
)

// MySQLStore 使用 MySQL 记录协调记录与 nonce 表。
// 表结构由 internal/storage/mysql 中的迁移维护，连接池由调用方共享。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已建立的连接池创建仓储。
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Close 不关闭共享连接池，由持有者统一关闭。
func (s *MySQLStore) Close() error {
	return nil
}

// Propose 在单个事务内写入记录并推进 nonce。
func (s *MySQLStore) Propose(ctx context.Context, record *Record, nonce uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	participants, acceptedBy, err := marshalAddressSets(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码协调记录失败")
	}

	const insertRecord = `INSERT INTO coordination_records
        (intent_id, status, proposer, tier, participants, accepted_by, created_at, expiry, in_flight)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`
	_, err = tx.ExecContext(ctx, insertRecord,
		record.IntentID.Hex(),
		string(record.Status),
		strings.ToLower(record.Proposer.Hex()),
		int(record.Tier),
		participants,
		acceptedBy,
		record.CreatedAt.Unix(),
		record.Expiry.Unix(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicateIntent
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入协调记录失败")
	}

	const upsertNonce = `INSERT INTO nonces (identity, last_nonce, updated_at)
        VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE last_nonce = VALUES(last_nonce), updated_at = VALUES(updated_at)`
	if _, err := tx.ExecContext(ctx, upsertNonce,
		strings.ToLower(record.Proposer.Hex()), nonce, time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "推进 nonce 失败")
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Get 查询指定记录。
func (s *MySQLStore) Get(ctx context.Context, intentID common.Hash) (*Record, error) {
	const stmt = `SELECT status, proposer, tier, participants, accepted_by, created_at, expiry, in_flight
        FROM coordination_records WHERE intent_id = ?`
	return scanRecord(s.db.QueryRowContext(ctx, stmt, intentID.Hex()), intentID)
}

// Update 覆盖已存在的记录。
func (s *MySQLStore) Update(ctx context.Context, record *Record) error {
	participants, acceptedBy, err := marshalAddressSets(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码协调记录失败")
	}

	// 在途执行中的行不可覆盖，只能由 FinishExecute 提交。
	const stmt = `UPDATE coordination_records
        SET status = ?, participants = ?, accepted_by = ?, in_flight = ?
        WHERE intent_id = ? AND in_flight = 0`
	result, err := s.db.ExecContext(ctx, stmt,
		string(record.Status),
		participants,
		acceptedBy,
		boolToInt(record.InFlight),
		record.IntentID.Hex(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新协调记录失败")
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		// 0 行受影响也可能是值未变化，回读区分三种情形。
		current, getErr := s.Get(ctx, record.IntentID)
		if getErr != nil {
			return getErr
		}
		if current.InFlight {
			return ErrReentrancy
		}
	}
	return nil
}

// Nonce 返回身份最近一次使用的 nonce。
func (s *MySQLStore) Nonce(ctx context.Context, identity common.Address) (uint64, error) {
	const stmt = `SELECT last_nonce FROM nonces WHERE identity = ?`
	var nonce uint64
	err := s.db.QueryRowContext(ctx, stmt, strings.ToLower(identity.Hex())).Scan(&nonce)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 nonce 失败")
	}
	return nonce, nil
}

// BeginExecute 在事务内做防重入置位检查。
func (s *MySQLStore) BeginExecute(ctx context.Context, intentID common.Hash) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	const selectStmt = `SELECT status, proposer, tier, participants, accepted_by, created_at, expiry, in_flight
        FROM coordination_records WHERE intent_id = ? FOR UPDATE`
	record, err := scanRecord(tx.QueryRowContext(ctx, selectStmt, intentID.Hex()), intentID)
	if err != nil {
		return nil, err
	}
	if record.InFlight {
		return nil, ErrReentrancy
	}
	if record.Status != StatusReady {
		return nil, ErrBadState
	}

	const markStmt = `UPDATE coordination_records SET in_flight = 1 WHERE intent_id = ?`
	if _, err := tx.ExecContext(ctx, markStmt, intentID.Hex()); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "置位执行标记失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	record.InFlight = true
	return record, nil
}

// FinishExecute 清除防重入标记并提交最终状态。
func (s *MySQLStore) FinishExecute(ctx context.Context, intentID common.Hash, final Status) error {
	// 比较并提交：仅当记录仍在途且为 Ready 时生效，
	// 避免覆盖执行期间已被结算的行。
	const stmt = `UPDATE coordination_records
        SET status = ?, in_flight = 0
        WHERE intent_id = ? AND in_flight = 1 AND status = ?`
	result, err := s.db.ExecContext(ctx, stmt, string(final), intentID.Hex(), string(StatusReady))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交执行结果失败")
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		if _, getErr := s.Get(ctx, intentID); getErr != nil {
			return getErr
		}
		return ErrBadState
	}
	return nil
}

func scanRecord(row *sql.Row, intentID common.Hash) (*Record, error) {
	var (
		status       string
		proposer     string
		tier         int
		participants string
		acceptedBy   string
		createdAt    int64
		expiry       int64
		inFlight     int
	)
	err := row.Scan(&status, &proposer, &tier, &participants, &acceptedBy, &createdAt, &expiry, &inFlight)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询协调记录失败")
	}

	participantList, err := unmarshalAddresses(participants)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码参与者集合失败")
	}
	acceptedList, err := unmarshalAddresses(acceptedBy)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码接受集合失败")
	}
	return &Record{
		IntentID:     intentID,
		Status:       Status(status),
		Proposer:     common.HexToAddress(proposer),
		Tier:         security.Tier(tier),
		Participants: participantList,
		AcceptedBy:   acceptedList,
		CreatedAt:    time.Unix(createdAt, 0),
		Expiry:       time.Unix(expiry, 0),
		InFlight:     inFlight != 0,
	}, nil
}

func marshalAddressSets(record *Record) (string, string, error) {
	participants, err := marshalAddresses(record.Participants)
	if err != nil {
		return "", "", err
	}
	acceptedBy, err := marshalAddresses(record.AcceptedBy)
	if err != nil {
		return "", "", err
	}
	return participants, acceptedBy, nil
}

func marshalAddresses(addresses []common.Address) (string, error) {
	encoded := make([]string, 0, len(addresses))
	for _, a := range addresses {
		encoded = append(encoded, strings.ToLower(a.Hex()))
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalAddresses(raw string) ([]common.Address, error) {
	var encoded []string
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return nil, err
	}
	decoded := make([]common.Address, 0, len(encoded))
	for _, a := range encoded {
		decoded = append(decoded, common.HexToAddress(a))
	}
	return decoded, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
