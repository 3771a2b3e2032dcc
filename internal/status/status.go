// Package status normalizes order status strings from upstream producers
// into canonical classes.
package status

import (
	"sort"
	"strings"
)

// Class is a canonical order status class.
type Class int

const (
	Unknown Class = iota
	Complete
	Rejected
	Cancelled
	Pending
)

var classNames = map[Class]string{
	Unknown:   "UNKNOWN",
	Complete:  "COMPLETE",
	Rejected:  "REJECTED",
	Cancelled: "CANCELLED",
	Pending:   "PENDING",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return classNames[Unknown]
}

// Finished reports whether the class is terminal.
func (c Class) Finished() bool {
	return c == Complete || c == Rejected || c == Cancelled
}

// aliases is the reverse lookup table from upstream spelling to class.
// Keys are upper case. Add new upstream vocabulary here.
var aliases = map[string]Class{
	"COMPLETE":          Complete,
	"COMPLETED":         Complete,
	"EXECUTED":          Complete,
	"FILLED":            Complete,
	"REJECTED":          Rejected,
	"REJECT":            Rejected,
	"CANCELLED":         Cancelled,
	"CANCELED":          Cancelled,
	"CANCELLED_BY_USER": Cancelled,
	"CANCEL":            Cancelled,
	"PENDING":           Pending,
	"OPEN":              Pending,
	"NEW":               Pending,
	"ACCEPTED":          Pending,
	"TRIGGER_PENDING":   Pending,
}

// Classify maps a raw status string to its class, case-insensitively.
// Unlisted strings classify as Unknown.
func Classify(raw string) Class {
	if c, ok := aliases[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return c
	}
	return Unknown
}

// IsFinished reports whether raw is a COMPLETE, REJECTED or CANCELLED spelling.
// Unknown statuses are not finished so they stay visible as pending.
func IsFinished(raw string) bool {
	return Classify(raw).Finished()
}

// IsPending reports whether raw should be shown as pending, which includes
// unknown vocabulary.
func IsPending(raw string) bool {
	return !IsFinished(raw)
}

// Aliases returns the accepted spellings for c.
func Aliases(c Class) []string {
	var out []string
	for alias, class := range aliases {
		if class == c {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}
