package rawrecord

import (
	"strings"
	"time"
)

const (
	FieldGlobalObjectID = "_global_object_id"
	FieldSystemObjectID = "_system_object_id"
	FieldObjectType     = "_objecttype"
	FieldUUID           = "_uuid"
	FieldLastModified   = "_last_modified"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07:00",
}

func (r Record) GlobalObjectID() (string, bool) {
	return r.String(FieldGlobalObjectID)
}

func (r Record) SystemObjectID() (int64, bool) {
	return r.Int(FieldSystemObjectID)
}

func (r Record) ObjectType() (string, bool) {
	return r.String(FieldObjectType)
}

func (r Record) UUID() (string, bool) {
	return r.String(FieldUUID)
}

// Body returns the object-type keyed payload, e.g. record["fungarium"].
func (r Record) Body() Record {
	objectType, ok := r.ObjectType()
	if !ok {
		return Record{}
	}
	return r.Child(objectType)
}

// LastModified reads the remote modification timestamp from the body, then from the top level.
func (r Record) LastModified() (time.Time, bool) {
	if objectType, ok := r.ObjectType(); ok {
		if ts, ok := r.Time(objectType, FieldLastModified); ok {
			return ts, true
		}
	}
	return r.Time(FieldLastModified)
}

// Time parses the string at path with the timestamp layouts EasyDB emits. Results are UTC.
func (r Record) Time(path ...string) (time.Time, bool) {
	s, ok := r.String(path...)
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(s)
}

// ParseTimestamp parses s at the microsecond precision postgres stores, so a stored timestamp
// compares equal to the one it was parsed from.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC().Truncate(time.Microsecond), true
		}
	}
	return time.Time{}, false
}

// LocalID returns the part of a global object id before '@'.
func LocalID(globalObjectID string) string {
	local, _, _ := strings.Cut(globalObjectID, "@")
	return local
}
