package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// uuidHandlers builds repository handlers for records keyed by a uuid string
// column named id.
func uuidHandlers[T any](id func(*T) *string) repository.ModelHandlers[*T] {
	return repository.ModelHandlers[*T]{
		NewRecord: func() *T {
			return new(T)
		},
		GetID: func(record *T) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(*id(record))
		},
		SetID: func(record *T, value uuid.UUID) {
			if record == nil {
				return
			}
			*id(record) = value.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *T) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(*id(record))
		},
	}
}

func endpointHandlers() repository.ModelHandlers[*endpointRecord] {
	return uuidHandlers(func(r *endpointRecord) *string { return &r.ID })
}

func deliveryAttemptHandlers() repository.ModelHandlers[*deliveryAttemptRecord] {
	return uuidHandlers(func(r *deliveryAttemptRecord) *string { return &r.ID })
}

func preferenceHandlers() repository.ModelHandlers[*preferenceRecord] {
	return uuidHandlers(func(r *preferenceRecord) *string { return &r.ID })
}

func notificationHandlers() repository.ModelHandlers[*notificationRecord] {
	return uuidHandlers(func(r *notificationRecord) *string { return &r.ID })
}

func digestBatchHandlers() repository.ModelHandlers[*digestBatchRecord] {
	return uuidHandlers(func(r *digestBatchRecord) *string { return &r.ID })
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
