package mapping

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// keyNamespace scopes synthesized natural keys. Changing it re-keys every synthesized entity.
var keyNamespace = uuid.MustParse("5b0f3b9e-4a8e-4f51-9d1c-6f3e2b7a0c11")

// Roles used when an entity has no identity of its own.
const (
	RoleOrganism       = "organism"
	RoleEvent          = "event"
	RoleLocation       = "location"
	RoleIdentification = "identification"
	RoleTaxon          = "taxon"
	RoleMeasurement    = "measurement"
	RoleRelationship   = "relationship"
)

// SynthesizeKey derives a stable key from the owning record and the entity's role in it, so
// re-importing the same record resolves to the same rows.
func SynthesizeKey(globalObjectID string, role ...string) string {
	name := globalObjectID + "/" + strings.Join(role, "/")
	return "urn:uuid:" + uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// ContentKey derives a key from a descriptive value, so records naming the same concept share it.
func ContentKey(role, value string) string {
	name := role + ":" + strings.ToLower(strings.Join(strings.Fields(value), " "))
	return "urn:uuid:" + uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// NestedKey is the key of a nested sub-record that carries its own local id.
func NestedKey(globalObjectID, table string, id int64) string {
	return fmt.Sprintf("%s/%s/%d", globalObjectID, table, id)
}
