package rawrecord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecord = `{
	"_objecttype": "fungarium",
	"_global_object_id": "1408175@9e5e1ad0-5a35-4d4e-a2b3-8f0b5c0d1e2f",
	"_system_object_id": 1408175,
	"_uuid": "c2a6d1b8-0d4b-4d7c-a1b5-3c2e0c7a9b11",
	"fungarium": {
		"_id": 3549,
		"_last_modified": "2021-03-15T10:11:12+01:00",
		"zugangsnummer": "  ZT Myc 3549 ",
		"bemerkung": "",
		"titel": {"de-DE": "Fliegenpilz", "en-US": "Fly agaric"},
		"nur_en": {"en-US": "only english"},
		"_nested:fungarium__bestimmung": [
			{"taxon": "Amanita muscaria"},
			{"taxon": "Amanita regalis"}
		]
	}
}`

func parseSample(t *testing.T) Record {
	t.Helper()
	r, err := Parse([]byte(sampleRecord))
	require.NoError(t, err)
	return r
}

func TestRecord_Identity(t *testing.T) {
	r := parseSample(t)

	gid, ok := r.GlobalObjectID()
	assert.True(t, ok)
	assert.Equal(t, "1408175@9e5e1ad0-5a35-4d4e-a2b3-8f0b5c0d1e2f", gid)
	assert.Equal(t, "1408175", LocalID(gid))

	sid, ok := r.SystemObjectID()
	assert.True(t, ok)
	assert.Equal(t, int64(1408175), sid)

	ot, ok := r.ObjectType()
	assert.True(t, ok)
	assert.Equal(t, "fungarium", ot)

	ts, ok := r.LastModified()
	require.True(t, ok)
	assert.Equal(t, time.Date(2021, 3, 15, 9, 11, 12, 0, time.UTC), ts)
}

func TestRecord_MissingBranches(t *testing.T) {
	r := parseSample(t)

	_, ok := r.String("fungarium", "does", "not", "exist")
	assert.False(t, ok)
	_, ok = r.String("fungarium", "bemerkung")
	assert.False(t, ok, "empty strings count as absent")
	assert.Nil(t, r.List("fungarium", "zugangsnummer"))
	assert.True(t, r.Child("fungarium", "zugangsnummer").IsNull())

	var empty Record
	_, ok = empty.GlobalObjectID()
	assert.False(t, ok)
	_, ok = empty.LastModified()
	assert.False(t, ok)
}

func TestRecord_StringTrimsAndFormatsNumbers(t *testing.T) {
	r := parseSample(t)

	s, ok := r.String("fungarium", "zugangsnummer")
	assert.True(t, ok)
	assert.Equal(t, "ZT Myc 3549", s)

	s, ok = r.String("fungarium", "_id")
	assert.True(t, ok)
	assert.Equal(t, "3549", s)
}

func TestRecord_ListAndFirst(t *testing.T) {
	r := parseSample(t)

	items := r.Body().List("_nested:fungarium__bestimmung")
	require.Len(t, items, 2)

	first, ok := r.Body().First("_nested:fungarium__bestimmung")
	require.True(t, ok)
	assert.Equal(t, "Amanita muscaria", first.StringOr("", "taxon"))

	second, ok := r.String("fungarium", "_nested:fungarium__bestimmung", "1", "taxon")
	assert.True(t, ok)
	assert.Equal(t, "Amanita regalis", second)
}

func TestRecord_Localized(t *testing.T) {
	r := parseSample(t)

	tests := []struct {
		name    string
		locales []string
		path    []string
		want    string
		ok      bool
	}{
		{name: "first locale wins", locales: []string{"de-DE", "en-US"}, path: []string{"fungarium", "titel"}, want: "Fliegenpilz", ok: true},
		{name: "falls through chain", locales: []string{"fr-FR", "en-US"}, path: []string{"fungarium", "titel"}, want: "Fly agaric", ok: true},
		{name: "any locale as last resort", locales: []string{"de-DE"}, path: []string{"fungarium", "nur_en"}, want: "only english", ok: true},
		{name: "flat string", locales: []string{"de-DE"}, path: []string{"fungarium", "zugangsnummer"}, want: "ZT Myc 3549", ok: true},
		{name: "missing", locales: []string{"de-DE"}, path: []string{"fungarium", "nope"}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Localized(tt.locales, tt.path...)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_Search(t *testing.T) {
	r := parseSample(t)

	names, err := r.Strings(`fungarium."_nested:fungarium__bestimmung"[].taxon`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Amanita muscaria", "Amanita regalis"}, names)

	_, err = r.Search("fungarium.[")
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp("2020-01-02 03:04:05")
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), ts)

	_, ok = ParseTimestamp("yesterday")
	assert.False(t, ok)
}

func TestParseTimestamp_MicrosecondPrecision(t *testing.T) {
	ts, ok := ParseTimestamp("2020-01-02T03:04:05.123456789+02:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 2, 1, 4, 5, 123456000, time.UTC), ts)

	stored := time.Date(2020, 1, 2, 1, 4, 5, 123456000, time.UTC)
	assert.False(t, ts.After(stored))
}
