package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// RefShape - в каком виде сервер вернул идентификатор сессии
type RefShape int

const (
	ShapeObject RefShape = iota + 1 // {"id": ...}
	ShapeNested                     // {"chat": {"id": ...}}
	ShapeBare                       // "..." или число
)

// SessionRef - нормализованный идентификатор сессии чата
type SessionRef struct {
	ID    string
	Shape RefShape
}

var errEmptySessionID = errors.New("empty session id")

// ParseSessionRef принимает все три формы ответа на создание сессии
func ParseSessionRef(raw []byte) (SessionRef, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return SessionRef{}, errEmptySessionID
	}

	if raw[0] != '{' {
		id, err := scalarID(raw)
		if err != nil {
			return SessionRef{}, err
		}
		return SessionRef{ID: id, Shape: ShapeBare}, nil
	}

	var obj struct {
		ID   json.RawMessage `json:"id"`
		Chat *struct {
			ID json.RawMessage `json:"id"`
		} `json:"chat"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return SessionRef{}, fmt.Errorf("malformed session response: %w", err)
	}
	if obj.Chat != nil && len(obj.Chat.ID) > 0 {
		id, err := scalarID(obj.Chat.ID)
		if err != nil {
			return SessionRef{}, err
		}
		return SessionRef{ID: id, Shape: ShapeNested}, nil
	}
	if len(obj.ID) > 0 {
		id, err := scalarID(obj.ID)
		if err != nil {
			return SessionRef{}, err
		}
		return SessionRef{ID: id, Shape: ShapeObject}, nil
	}
	return SessionRef{}, errEmptySessionID
}

// scalarID читает строку или число
func scalarID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", errEmptySessionID
		}
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("unsupported session id %s", string(raw))
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", fmt.Errorf("unsupported session id %s", n.String())
	}
	return n.String(), nil
}
