package registry

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	xerrors "ChainPact/internal/errors"
)

// MySQLStore 使用 MySQL 记录授权表与公钥表。
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

// GrantAccess 写入授权记录。已吊销的记录不可重新授权。
func (s *MySQLStore) GrantAccess(ctx context.Context, intentID common.Hash, identity common.Address) error {
	state, err := s.AccessState(ctx, intentID, identity)
	if err != nil {
		return err
	}
	if state == AccessRevoked {
		return ErrAccessRevoked
	}
	const stmt = `INSERT INTO access_entries (intent_id, identity, state, updated_at)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE state = IF(state = ?, state, VALUES(state)), updated_at = VALUES(updated_at)`
	_, err = s.db.ExecContext(ctx, stmt,
		intentID.Hex(), strings.ToLower(identity.Hex()), int(AccessGranted), time.Now().Unix(), int(AccessRevoked))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入授权记录失败")
	}
	return nil
}

// RevokeAccess 将记录置为吊销态。
func (s *MySQLStore) RevokeAccess(ctx context.Context, intentID common.Hash, identity common.Address) error {
	const stmt = `INSERT INTO access_entries (intent_id, identity, state, updated_at)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE state = VALUES(state), updated_at = VALUES(updated_at)`
	_, err := s.db.ExecContext(ctx, stmt,
		intentID.Hex(), strings.ToLower(identity.Hex()), int(AccessRevoked), time.Now().Unix())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入吊销记录失败")
	}
	return nil
}

// ClearAccess 删除仍然有效的授权记录。吊销记录保持不动。
func (s *MySQLStore) ClearAccess(ctx context.Context, intentID common.Hash, identity common.Address) error {
	const stmt = `DELETE FROM access_entries WHERE intent_id = ? AND identity = ? AND state = ?`
	_, err := s.db.ExecContext(ctx, stmt,
		intentID.Hex(), strings.ToLower(identity.Hex()), int(AccessGranted))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清理授权记录失败")
	}
	return nil
}

// AccessState 返回授权记录的当前状态。
func (s *MySQLStore) AccessState(ctx context.Context, intentID common.Hash, identity common.Address) (AccessState, error) {
	const stmt = `SELECT state FROM access_entries WHERE intent_id = ? AND identity = ?`
	var state int
	err := s.db.QueryRowContext(ctx, stmt, intentID.Hex(), strings.ToLower(identity.Hex())).Scan(&state)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return AccessAbsent, nil
	}
	if err != nil {
		return AccessAbsent, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询授权记录失败")
	}
	return AccessState(state), nil
}

// PutPublicKey 登记公钥承诺。
func (s *MySQLStore) PutPublicKey(ctx context.Context, identity common.Address, commitment Commitment) error {
	if commitment.IsZero() {
		return ErrInvalidPublicKey
	}
	const stmt = `INSERT INTO public_keys (identity, commitment, updated_at)
        VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE commitment = VALUES(commitment), updated_at = VALUES(updated_at)`
	_, err := s.db.ExecContext(ctx, stmt,
		strings.ToLower(identity.Hex()), common.Bytes2Hex(commitment[:]), time.Now().Unix())
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.New(xerrors.CodeConflict, "公钥登记冲突")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记公钥失败")
	}
	return nil
}

// GetPublicKey 查询公钥承诺。
func (s *MySQLStore) GetPublicKey(ctx context.Context, identity common.Address) (Commitment, error) {
	const stmt = `SELECT commitment FROM public_keys WHERE identity = ?`
	var encoded string
	err := s.db.QueryRowContext(ctx, stmt, strings.ToLower(identity.Hex())).Scan(&encoded)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return Commitment{}, ErrKeyNotFound
	}
	if err != nil {
		return Commitment{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询公钥失败")
	}
	var commitment Commitment
	copy(commitment[:], common.Hex2Bytes(encoded))
	return commitment, nil
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
