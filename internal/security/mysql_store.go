package security

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
)

// MySQLContextStore 使用 MySQL 记录安全上下文。
// 表结构由 internal/storage/mysql 中的迁移维护，连接池由调用方共享。
type MySQLContextStore struct {
	db *sql.DB
}

// NewMySQLContextStore 基于已建立的连接池创建仓储。
func NewMySQLContextStore(db *sql.DB) *MySQLContextStore {
	return &MySQLContextStore{db: db}
}

// Close 不关闭共享连接池，由持有者统一关闭。
func (s *MySQLContextStore) Close() error {
	return nil
}

// Create 插入新的上下文记录。
func (s *MySQLContextStore) Create(ctx context.Context, sc *Context) error {
	participants, err := marshalParticipants(sc.Participants)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码参与者集合失败")
	}

	const stmt = `INSERT INTO security_contexts
        (intent_id, tier, timelock_seconds, created_at, creator, participants)
        VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		sc.IntentID.Hex(),
		int(sc.Tier),
		int64(sc.Timelock/time.Second),
		sc.CreatedAt.Unix(),
		strings.ToLower(sc.Creator.Hex()),
		participants,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrContextExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入安全上下文失败")
	}
	return nil
}

// Get 查询指定上下文。
func (s *MySQLContextStore) Get(ctx context.Context, intentID common.Hash) (*Context, error) {
	const stmt = `SELECT tier, timelock_seconds, created_at, creator, participants
        FROM security_contexts WHERE intent_id = ?`

	var (
		tier         int
		timelockSecs int64
		createdAt    int64
		creator      string
		participants string
	)
	err := s.db.QueryRowContext(ctx, stmt, intentID.Hex()).Scan(&tier, &timelockSecs, &createdAt, &creator, &participants)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchContext
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询安全上下文失败")
	}

	decoded, err := unmarshalParticipants(participants)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码参与者集合失败")
	}
	return &Context{
		IntentID:     intentID,
		Tier:         Tier(tier),
		Timelock:     time.Duration(timelockSecs) * time.Second,
		CreatedAt:    time.Unix(createdAt, 0),
		Creator:      common.HexToAddress(creator),
		Participants: decoded,
	}, nil
}

// Update 覆盖已存在的上下文。
func (s *MySQLContextStore) Update(ctx context.Context, sc *Context) error {
	participants, err := marshalParticipants(sc.Participants)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码参与者集合失败")
	}

	const stmt = `UPDATE security_contexts
        SET tier = ?, timelock_seconds = ?, created_at = ?, participants = ?
        WHERE intent_id = ?`
	result, err := s.db.ExecContext(ctx, stmt,
		int(sc.Tier),
		int64(sc.Timelock/time.Second),
		sc.CreatedAt.Unix(),
		participants,
		sc.IntentID.Hex(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新安全上下文失败")
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNoSuchContext
	}
	return nil
}

// Delete 删除上下文。
func (s *MySQLContextStore) Delete(ctx context.Context, intentID common.Hash) error {
	const stmt = `DELETE FROM security_contexts WHERE intent_id = ?`
	if _, err := s.db.ExecContext(ctx, stmt, intentID.Hex()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除安全上下文失败")
	}
	return nil
}

func marshalParticipants(participants []common.Address) (string, error) {
	encoded := make([]string, 0, len(participants))
	for _, p := range participants {
		encoded = append(encoded, strings.ToLower(p.Hex()))
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalParticipants(raw string) ([]common.Address, error) {
	var encoded []string
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return nil, err
	}
	decoded := make([]common.Address, 0, len(encoded))
	for _, p := range encoded {
		decoded = append(decoded, common.HexToAddress(p))
	}
	return decoded, nil
}

// ensure interface compliance at compile time
var _ ContextStore = (*MySQLContextStore)(nil)
