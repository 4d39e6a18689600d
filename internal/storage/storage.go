package storage

import "eventScope/internal/model"

// Storage defines a sink for fetched log records.
type Storage interface {
	PutLogBatch(logs []model.LogRecord) error
}
