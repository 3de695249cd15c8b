// Package auth decides which chat users may issue management commands.
package auth

import (
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Authorizer checks a chat user identifier.
type Authorizer interface {
	Authorize(userID string) error
}

// AllowList permits listed user IDs. An empty list permits everyone.
type AllowList struct {
	ids map[string]struct{}
}

func NewAllowList(ids []string) AllowList {
	set := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return AllowList{ids: set}
}

func (a AllowList) Open() bool {
	return len(a.ids) == 0
}

func (a AllowList) Authorize(userID string) error {
	if a.Open() {
		return nil
	}
	if _, ok := a.ids[strings.TrimSpace(userID)]; !ok {
		return ErrUnauthorized
	}
	return nil
}

// FuncAuthorizer adapts a function into an Authorizer.
type FuncAuthorizer func(userID string) error

func (f FuncAuthorizer) Authorize(userID string) error {
	return f(userID)
}
