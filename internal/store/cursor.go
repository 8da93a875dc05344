package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// encodeCursor renders the position of tx as "<unix nanos>-<transaction id>".
func encodeCursor(tx domain.Transaction) string {
	return fmt.Sprintf("%d-%d", tx.Timestamp.UnixNano(), tx.ID)
}

func decodeCursor(cursor string) (time.Time, int64, error) {
	sep := strings.LastIndexByte(cursor, '-')
	if sep <= 0 {
		return time.Time{}, 0, ErrInvalidCursor
	}
	nanosPart, idPart := cursor[:sep], cursor[sep+1:]
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return time.Time{}, 0, ErrInvalidCursor
	}
	return time.Unix(0, nanos).UTC(), id, nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	default:
		return limit
	}
}
