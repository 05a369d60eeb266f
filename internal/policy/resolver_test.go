package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skynetai/skynet/internal/models"
	"github.com/skynetai/skynet/internal/providers"
)

func TestResolveUngatedToolAlwaysAllowed(t *testing.T) {
	r := NewResolver()
	user := &models.User{ContentFilter: models.ContentFilterStrict}
	d := r.Resolve(user, "read_file")
	assert.True(t, d.Allowed)
}

func TestResolveNilUserUnrestricted(t *testing.T) {
	r := NewResolver()
	d := r.Resolve(nil, "bash")
	assert.True(t, d.Allowed)
}

func TestResolveStrictContentFilterHidesBash(t *testing.T) {
	r := NewResolver()
	user := &models.User{ContentFilter: models.ContentFilterStrict, Capabilities: models.CapabilityFlags{Exec: true}}
	d := r.Resolve(user, "bash")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "content_filter=strict")
}

func TestResolveMissingCapabilityFlagDenies(t *testing.T) {
	r := NewResolver()
	user := &models.User{ContentFilter: models.ContentFilterModerate, Capabilities: models.CapabilityFlags{Exec: false}}
	d := r.Resolve(user, "execute_command")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "capability flag")
}

func TestResolveRequiresApprovalDeniesSensitiveTool(t *testing.T) {
	r := NewResolver()
	user := &models.User{
		ContentFilter:    models.ContentFilterModerate,
		Capabilities:     models.CapabilityFlags{Exec: true},
		RequiresApproval: true,
	}
	d := r.Resolve(user, "script_tool")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "admin approval")
}

func TestResolveModerateUserWithCapabilityAllowed(t *testing.T) {
	r := NewResolver()
	user := &models.User{ContentFilter: models.ContentFilterModerate, Capabilities: models.CapabilityFlags{Exec: true}}
	d := r.Resolve(user, "bash")
	assert.True(t, d.Allowed)
}

func TestVisibleDefsFiltersDeniedTools(t *testing.T) {
	r := NewResolver()
	user := &models.User{ContentFilter: models.ContentFilterStrict}
	defs := []providers.ToolDef{{Name: "bash"}, {Name: "read_file"}, {Name: "execute_command"}}

	visible := r.VisibleDefs(user, defs)

	names := make([]string, 0, len(visible))
	for _, d := range visible {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"read_file"}, names)
}
