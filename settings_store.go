package gateward

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
)

const settingsRecordVersionV1 = 1

var (
	errSettingsNotFound         = errors.New("verification settings not found")
	errSettingsRedisUnavailable = errors.New("verification settings redis unavailable")
)

type settingsStore struct {
	redis  *redis.Client
	prefix string
}

func newSettingsStore(redisClient *redis.Client, prefix string) *settingsStore {
	return &settingsStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *settingsStore) key(tenantID string) string {
	return s.prefix + ":s:" + tenantID
}

// Get describes the get operation and its observable behavior.
//
// Get may return an error when input validation, dependency calls, or security checks fail.
// Get does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *settingsStore) Get(ctx context.Context, tenantID string) (*VerificationSettings, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errSettingsNotFound
		}
		return nil, fmt.Errorf("%w: %v", errSettingsRedisUnavailable, err)
	}

	return decodeSettingsRecord(data)
}

// Upsert applies a partial patch under WATCH: the first write for a tenant
// starts from the provided defaults, later writes patch the stored row in
// place. One row per tenant, never two.
//
// A non-nil validate runs against the merged row inside the transaction, so
// validation and commit see the same stored state: concurrent patches cannot
// each pass against a stale read and merge into an invalid row. A rejected
// merge aborts the write and the validation error is returned unwrapped.
func (s *settingsStore) Upsert(
	ctx context.Context,
	patch SettingsPatch,
	defaults VerificationSettings,
	validate func(VerificationSettings) error,
) (*VerificationSettings, error) {
	const maxRetries = 4
	key := s.key(patch.TenantID)

	for i := 0; i < maxRetries; i++ {
		var result *VerificationSettings
		var rejected error

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current := defaults
			current.TenantID = patch.TenantID

			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				existing, decodeErr := decodeSettingsRecord(data)
				if decodeErr != nil {
					return decodeErr
				}
				current = *existing
			case errors.Is(err, redis.Nil):
				// First configuration write for this tenant.
			default:
				return err
			}

			if patch.LogChannelRef != nil {
				current.LogChannelRef = *patch.LogChannelRef
			}
			if patch.GrantedRoleRef != nil {
				current.GrantedRoleRef = *patch.GrantedRoleRef
			}
			if patch.TimeoutSeconds != nil {
				current.TimeoutSeconds = *patch.TimeoutSeconds
			}
			if patch.ReminderLeadSeconds != nil {
				current.ReminderLeadSeconds = *patch.ReminderLeadSeconds
			}

			if validate != nil {
				if vErr := validate(current); vErr != nil {
					rejected = vErr
					return vErr
				}
			}

			encoded, err := encodeSettingsRecord(&current)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}

			result = &current
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if rejected != nil {
				return nil, rejected
			}
			return nil, fmt.Errorf("%w: %v", errSettingsRedisUnavailable, err)
		}

		return result, nil
	}

	return nil, errSettingsRedisUnavailable
}

func encodeSettingsRecord(settings *VerificationSettings) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(settingsRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, uint32(settings.TimeoutSeconds)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(settings.ReminderLeadSeconds)); err != nil {
		return nil, err
	}

	for _, field := range []string{settings.TenantID, settings.LogChannelRef, settings.GrantedRoleRef} {
		if len(field) > 65535 {
			return nil, errors.New("settings record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeSettingsRecord(data []byte) (*VerificationSettings, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != settingsRecordVersionV1 {
		return nil, errors.New("invalid settings record version")
	}

	settings := &VerificationSettings{}

	var timeout, lead uint32
	if err := binary.Read(reader, binary.BigEndian, &timeout); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &lead); err != nil {
		return nil, err
	}
	settings.TimeoutSeconds = int(timeout)
	settings.ReminderLeadSeconds = int(lead)

	for _, field := range []*string{&settings.TenantID, &settings.LogChannelRef, &settings.GrantedRoleRef} {
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

	return settings, nil
}
