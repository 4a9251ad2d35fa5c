package toolquery

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type cursorToken struct {
	Offset   int    `json:"offset"`
	Checksum uint64 `json:"checksum"`
}

func encodeCursor(offset int, checksum uint64) (string, error) {
	payload, err := json.Marshal(cursorToken{Offset: offset, Checksum: checksum})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

func decodeCursor(cursor string) (cursorToken, error) {
	if cursor == "" {
		return cursorToken{Offset: 0}, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return cursorToken{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var token cursorToken
	if err := json.Unmarshal(decoded, &token); err != nil {
		return cursorToken{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if token.Offset < 0 {
		return cursorToken{}, ErrInvalidCursor
	}
	return token, nil
}

// queryChecksum identifies a query against one generation of the engine.
// A cursor is only valid for the query and generation that issued it.
func queryChecksum(criteriaKey, rankKey string, generation uint64) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(criteriaKey)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(rankKey)
	var gen [8]byte
	binary.LittleEndian.PutUint64(gen[:], generation)
	_, _ = d.Write(gen[:])
	return d.Sum64()
}

// pageStart resolves the first result index of a query: the cursor's offset
// when a cursor is given, otherwise offset.
func pageStart(cursor string, offset int, checksum uint64) (int, error) {
	if cursor == "" {
		return offset, nil
	}
	token, err := decodeCursor(cursor)
	if err != nil {
		return 0, err
	}
	if token.Checksum != checksum {
		return 0, fmt.Errorf("%w: stale cursor", ErrInvalidCursor)
	}
	return token.Offset, nil
}

// paginate slices items[start:start+limit] (to the end when limit is 0) and
// returns a cursor for the next page when one exists.
func paginate[T any](items []T, start, limit, total int, checksum uint64) ([]T, string, error) {
	if start >= len(items) {
		return []T{}, "", nil
	}
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := items[start:end]

	next := ""
	if limit > 0 && end < total {
		var err error
		next, err = encodeCursor(end, checksum)
		if err != nil {
			return nil, "", err
		}
	}
	return page, next, nil
}
