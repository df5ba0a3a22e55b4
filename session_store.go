package gateward

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionRecordVersionV1 = 1

var (
	errSessionNotFound         = errors.New("verification session not found")
	errSessionExpired          = errors.New("verification session deadline passed")
	errAnswerMismatch          = errors.New("verification answer mismatch")
	errAttemptsExceeded        = errors.New("verification attempts exceeded")
	errSessionConflict         = errors.New("verification session already resolved")
	errPendingExists           = errors.New("pending verification session exists")
	errSessionRedisUnavailable = errors.New("verification session redis unavailable")
)

type sessionRecord struct {
	SessionID   string
	PrincipalID string
	TenantID    string
	Status      SessionStatus
	Attempts    uint16
	CreatedAt   int64
	ExpiresAt   int64
	ReminderAt  int64
	VerifiedAt  int64
	SecretHash  [32]byte
}

type verificationSessionStore struct {
	redis     *redis.Client
	prefix    string
	retention time.Duration
}

func newVerificationSessionStore(redisClient *redis.Client, prefix string, retention time.Duration) *verificationSessionStore {
	return &verificationSessionStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

// The pending key is keyed by principal, not by session id: Redis key
// uniqueness is what enforces the at-most-one-Pending-per-principal
// invariant across processes.
func (s *verificationSessionStore) pendingKey(principalID string) string {
	return s.prefix + ":p:" + principalID
}

func (s *verificationSessionStore) archiveKey(sessionID string) string {
	return s.prefix + ":a:" + sessionID
}

func (s *verificationSessionStore) indexKey() string {
	return s.prefix + ":idx"
}

// pendingTTL returns the Redis TTL for a pending key: the deadline plus the
// retention window. The expiry transition is the authoritative remover and
// must still find the key when its timer fires at or after the deadline;
// Redis eviction is only the backstop for a process that never comes back.
func (s *verificationSessionStore) pendingTTL(expiresAt int64) time.Duration {
	return time.Until(time.Unix(expiresAt, 0)) + s.retention
}

// CreatePending persists a new Pending session. The WATCH on the pending key
// is the uniqueness gate: a concurrent create for the same principal loses
// with errPendingExists and the caller falls back to secret rotation. The
// key write and the recovery index entry commit in one transaction so a
// pending session is never invisible to restart recovery.
func (s *verificationSessionStore) CreatePending(ctx context.Context, record *sessionRecord) error {
	encoded, err := encodeSessionRecord(record)
	if err != nil {
		return err
	}

	if time.Until(time.Unix(record.ExpiresAt, 0)) <= 0 {
		return errSessionExpired
	}

	key := s.pendingKey(record.PrincipalID)
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		if err := tx.Get(ctx, key).Err(); err == nil {
			return errPendingExists
		} else if !errors.Is(err, redis.Nil) {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.pendingTTL(record.ExpiresAt))
			pipe.SAdd(ctx, s.indexKey(), record.PrincipalID)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case err == redis.TxFailedErr:
		// A concurrent writer claimed the key between WATCH and EXEC.
		return errPendingExists
	case errors.Is(err, errPendingExists):
		return errPendingExists
	default:
		return fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
	}
}

// GetPending describes the getpending operation and its observable behavior.
//
// GetPending may return an error when input validation, dependency calls, or security checks fail.
// GetPending does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationSessionStore) GetPending(ctx context.Context, principalID string) (*sessionRecord, error) {
	data, err := s.redis.Get(ctx, s.pendingKey(principalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
	}

	return decodeSessionRecord(data)
}

// RotateSecret replaces the secret hash of an existing Pending session in
// place. Session identity, deadline, and attempt count are preserved, so a
// rotation never extends the principal's time budget.
func (s *verificationSessionStore) RotateSecret(ctx context.Context, principalID string, newHash [32]byte) (*sessionRecord, error) {
	const maxRetries = 4
	key := s.pendingKey(principalID)

	for i := 0; i < maxRetries; i++ {
		var matched *sessionRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeSessionRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				if err := s.archiveAndClear(ctx, tx, record, StatusExpired, now); err != nil {
					return err
				}
				return errSessionNotFound
			}

			record.SecretHash = newHash
			updated, err := encodeSessionRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, s.pendingTTL(record.ExpiresAt))
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errSessionNotFound):
				return nil, errSessionNotFound
			default:
				return nil, fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errSessionNotFound
}

// Consume applies an answer submission against the principal's Pending
// session under WATCH. It is the serialization point for the
// Pending -> Verified transition: exactly one concurrent submission can
// commit it.
//
// On errAnswerMismatch, errAttemptsExceeded, and errSessionExpired the
// record observed inside the transaction is returned alongside the error so
// the caller can cancel timers and emit audit events for the right session.
func (s *verificationSessionStore) Consume(
	ctx context.Context,
	principalID string,
	providedHash [32]byte,
	maxAttempts int,
) (*sessionRecord, error) {
	const maxRetries = 4
	key := s.pendingKey(principalID)

	for i := 0; i < maxRetries; i++ {
		var matched *sessionRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeSessionRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				if err := s.archiveAndClear(ctx, tx, record, StatusExpired, now); err != nil {
					return err
				}
				matched = record
				return errSessionExpired
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if maxAttempts > 0 && int(record.Attempts) >= maxAttempts {
					if err := s.archiveAndClear(ctx, tx, record, StatusExpired, now); err != nil {
						return err
					}
					matched = record
					return errAttemptsExceeded
				}

				updated, err := encodeSessionRecord(record)
				if err != nil {
					return err
				}

				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, s.pendingTTL(record.ExpiresAt))
					return nil
				})
				if err != nil {
					return err
				}
				matched = record
				return errAnswerMismatch
			}

			if err := s.archiveAndClear(ctx, tx, record, StatusVerified, now); err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errSessionNotFound
			case errors.Is(err, errSessionExpired),
				errors.Is(err, errAnswerMismatch),
				errors.Is(err, errAttemptsExceeded):
				return matched, err
			default:
				return nil, fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errSessionConflict
}

// Expire transitions the Pending session to Expired, but only while it is
// still the same session the caller scheduled the deadline for. A session
// resolved or replaced in the meantime yields errSessionConflict and the
// caller treats the callback as a no-op.
func (s *verificationSessionStore) Expire(ctx context.Context, principalID, sessionID string) (*sessionRecord, error) {
	return s.resolve(ctx, principalID, sessionID, StatusExpired)
}

// Cancel transitions the Pending session to Cancelled. An empty sessionID
// cancels whatever session is currently pending for the principal.
func (s *verificationSessionStore) Cancel(ctx context.Context, principalID, sessionID string) (*sessionRecord, error) {
	return s.resolve(ctx, principalID, sessionID, StatusCancelled)
}

func (s *verificationSessionStore) resolve(
	ctx context.Context,
	principalID, sessionID string,
	terminal SessionStatus,
) (*sessionRecord, error) {
	const maxRetries = 4
	key := s.pendingKey(principalID)

	for i := 0; i < maxRetries; i++ {
		var matched *sessionRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeSessionRecord(data)
			if err != nil {
				return err
			}

			if sessionID != "" && record.SessionID != sessionID {
				return errSessionConflict
			}

			if err := s.archiveAndClear(ctx, tx, record, terminal, time.Now()); err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errSessionNotFound
			case errors.Is(err, errSessionConflict):
				return nil, errSessionConflict
			default:
				return nil, fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errSessionConflict
}

// archiveAndClear commits the terminal transition: the pending key is
// deleted, the principal leaves the recovery index, and the finished record
// is written under the session id for the retention window.
func (s *verificationSessionStore) archiveAndClear(
	ctx context.Context,
	tx *redis.Tx,
	record *sessionRecord,
	terminal SessionStatus,
	now time.Time,
) error {
	record.Status = terminal
	if terminal == StatusVerified && record.VerifiedAt == 0 {
		record.VerifiedAt = now.Unix()
	}

	archived, err := encodeSessionRecord(record)
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.pendingKey(record.PrincipalID))
		pipe.SRem(ctx, s.indexKey(), record.PrincipalID)
		pipe.Set(ctx, s.archiveKey(record.SessionID), archived, s.retention)
		return nil
	})
	return err
}

// Archived describes the archived operation and its observable behavior.
//
// Archived may return an error when input validation, dependency calls, or security checks fail.
// Archived does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *verificationSessionStore) Archived(ctx context.Context, sessionID string) (*sessionRecord, error) {
	data, err := s.redis.Get(ctx, s.archiveKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
	}

	return decodeSessionRecord(data)
}

// PendingPrincipals lists principals with an outstanding session, used to
// re-derive timers after a process restart.
func (s *verificationSessionStore) PendingPrincipals(ctx context.Context) ([]string, error) {
	members, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
	}
	return members, nil
}

// ForgetPrincipal drops a stale index entry whose pending key has already
// expired out of Redis.
func (s *verificationSessionStore) ForgetPrincipal(ctx context.Context, principalID string) error {
	if err := s.redis.SRem(ctx, s.indexKey(), principalID).Err(); err != nil {
		return fmt.Errorf("%w: %v", errSessionRedisUnavailable, err)
	}
	return nil
}

func encodeSessionRecord(record *sessionRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionRecordVersionV1)
	buf.WriteByte(byte(record.Status))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	for _, ts := range []int64{record.CreatedAt, record.ExpiresAt, record.ReminderAt, record.VerifiedAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, field := range []string{record.SessionID, record.PrincipalID, record.TenantID} {
		if len(field) > 65535 {
			return nil, errors.New("session record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeSessionRecord(data []byte) (*sessionRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionRecordVersionV1 {
		return nil, errors.New("invalid session record version")
	}

	status, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &sessionRecord{
		Status: SessionStatus(status),
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	for _, ts := range []*int64{&record.CreatedAt, &record.ExpiresAt, &record.ReminderAt, &record.VerifiedAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, field := range []*string{&record.SessionID, &record.PrincipalID, &record.TenantID} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*field = string(raw)
	}

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

func (r *sessionRecord) toSession() *VerificationSession {
	if r == nil {
		return nil
	}

	session := &VerificationSession{
		ID:          r.SessionID,
		PrincipalID: r.PrincipalID,
		TenantID:    r.TenantID,
		Status:      r.Status,
		Attempts:    int(r.Attempts),
		CreatedAt:   time.Unix(r.CreatedAt, 0),
		ExpiresAt:   time.Unix(r.ExpiresAt, 0),
		ReminderAt:  time.Unix(r.ReminderAt, 0),
	}
	if r.VerifiedAt != 0 {
		session.VerifiedAt = time.Unix(r.VerifiedAt, 0)
	}
	return session
}
