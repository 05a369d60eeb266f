package main

import (
	"context"

	"github.com/skynetai/skynet/internal/config"
	"github.com/skynetai/skynet/internal/identity"
	"github.com/skynetai/skynet/internal/memory"
	"github.com/skynetai/skynet/internal/runtime"
	"github.com/skynetai/skynet/internal/scheduler"
	"github.com/skynetai/skynet/internal/tools"
)

const maxReadFileBytes = 1 << 20 // 1 MiB, matching the teacher's read-tool ceiling

// registerBuiltinTools registers the catalog tools from spec.md §4.4
// against the shared registry (script tools are not registered here), using runtime.SessionInfoFromContext to
// give tools that need the calling turn's identity (reminder's delivery
// channel/target, link_identity's currentUser) a way to learn it without
// the registry threading per-call context through every Execute.
func registerBuiltinTools(reg *tools.Registry, skills *tools.SkillReadTool, cfg *config.Config, mem *memory.Manager, idm *identity.Manager, handle *scheduler.Handle) {
	ws := cfg.Agent.WorkspacePath

	reg.Register(tools.NewBashTool(ws))
	reg.Register(tools.NewExecuteCommandTool(ws))
	reg.Register(tools.NewReadFileTool(ws, maxReadFileBytes))
	reg.Register(tools.NewWriteFileTool(ws))
	reg.Register(tools.NewListFilesTool(ws))
	reg.Register(tools.NewSearchFilesTool(ws))
	reg.Register(tools.NewPatchFileTool(ws))
	reg.Register(skills)

	reg.Register(tools.NewKnowledgeSearchTool(mem))
	reg.Register(tools.NewKnowledgeWriteTool(mem))
	reg.Register(tools.NewKnowledgeListTool(mem))
	reg.Register(tools.NewKnowledgeDeleteTool(mem))

	reg.Register(tools.NewReminderTool(handle, sessionChannel, sessionTarget))
	reg.Register(tools.NewLinkIdentityTool(mem, idm, sessionCurrentUser))
}

// sessionChannel/sessionTarget back reminder's per-add channel/target
// resolution with the turn's SessionInfo, set by runtime.Process right
// after identity resolution.
func sessionChannel(ctx context.Context) string {
	info, ok := runtime.SessionInfoFromContext(ctx)
	if !ok {
		return ""
	}
	return info.Channel
}

func sessionTarget(ctx context.Context) string {
	info, ok := runtime.SessionInfoFromContext(ctx)
	if !ok {
		return ""
	}
	return info.Identifier
}

// sessionCurrentUser backs link_identity's currentUser closure.
func sessionCurrentUser(ctx context.Context) (userID, channel, identifier string) {
	info, ok := runtime.SessionInfoFromContext(ctx)
	if !ok {
		return "", "", ""
	}
	return info.UserID, info.Channel, info.Identifier
}
