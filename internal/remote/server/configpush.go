package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ralph-tui/ralph-tui/internal/fsutil"
	"github.com/ralph-tui/ralph-tui/internal/remote/protocol"
)

func (c *connection) handleCheckConfig(f frame) {
	resp := protocol.CheckConfigResponse{
		Envelope:    protocol.ReplyEnvelope(protocol.TypeCheckConfigResponse, f.env.ID),
		GlobalPath:  c.srv.globalConfigPath(),
		ProjectPath: c.srv.projectConfigPath(),
		RemoteCwd:   c.srv.cwd,
	}
	if data, err := os.ReadFile(resp.GlobalPath); err == nil {
		resp.GlobalExists = true
		resp.GlobalContent = string(data)
	}
	if data, err := os.ReadFile(resp.ProjectPath); err == nil {
		resp.ProjectExists = true
		resp.ProjectContent = string(data)
	}
	_ = c.conn.WriteFrame(resp)
}

func (c *connection) handlePushConfig(f frame) {
	var msg protocol.PushConfig
	if err := json.Unmarshal(f.raw, &msg); err != nil {
		c.sendPushConfigError(f.env.ID, "malformed push_config message")
		return
	}

	var probe map[string]any
	if err := toml.Unmarshal([]byte(msg.ConfigContent), &probe); err != nil {
		c.sendPushConfigError(f.env.ID, fmt.Sprintf("Invalid TOML: %v", err))
		return
	}

	target, err := c.srv.configPathForScope(msg.Scope)
	if err != nil {
		c.sendPushConfigError(f.env.ID, err.Error())
		return
	}

	resp := protocol.PushConfigResponse{
		Envelope:   protocol.ReplyEnvelope(protocol.TypePushConfigResponse, f.env.ID),
		ConfigPath: target,
	}

	existing, readErr := os.ReadFile(target)
	exists := readErr == nil

	if exists && !msg.Overwrite {
		resp.Success = false
		resp.Error = "Config already exists at " + target + ". Use overwrite=true"
		_ = c.conn.WriteFrame(resp)
		return
	}

	if exists {
		backupPath := target + ".backup." + iso8601Filename(time.Now().UTC())
		if err := fsutil.WriteAtomic(backupPath, existing, 0o644); err != nil {
			resp.Success = false
			resp.Error = fmt.Sprintf("backup existing config: %v", err)
			_ = c.conn.WriteFrame(resp)
			return
		}
		resp.BackupPath = backupPath
		resp.MigrationTriggered = detectSchemaChange(existing, []byte(msg.ConfigContent))
		resp.RequiresRestart = detectListenerChange(existing, []byte(msg.ConfigContent))
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		resp.Success = false
		resp.Error = fmt.Sprintf("create config directory: %v", err)
		_ = c.conn.WriteFrame(resp)
		return
	}

	if err := fsutil.WriteAtomic(target, []byte(msg.ConfigContent), 0o644); err != nil {
		resp.Success = false
		resp.Error = fmt.Sprintf("write config: %v", err)
		_ = c.conn.WriteFrame(resp)
		return
	}

	resp.Success = true
	_ = c.conn.WriteFrame(resp)
}

func (c *connection) sendPushConfigError(requestID, msg string) {
	_ = c.conn.WriteFrame(protocol.PushConfigResponse{
		Envelope: protocol.ReplyEnvelope(protocol.TypePushConfigResponse, requestID),
		Success:  false,
		Error:    msg,
	})
}

// iso8601Filename renders t as an ISO-8601 timestamp with colons replaced
// by dashes, since colons are awkward in filenames on some filesystems.
func iso8601Filename(t time.Time) string {
	return strings.ReplaceAll(t.Format(time.RFC3339), ":", "-")
}

// detectSchemaChange is a minimal heuristic: a migration is considered
// triggered when the new document introduces or removes a top-level key
// relative to the old one.
func detectSchemaChange(oldContent, newContent []byte) bool {
	var oldDoc, newDoc map[string]any
	if err := toml.Unmarshal(oldContent, &oldDoc); err != nil {
		return false
	}
	if err := toml.Unmarshal(newContent, &newDoc); err != nil {
		return false
	}
	for k := range newDoc {
		if _, ok := oldDoc[k]; !ok {
			return true
		}
	}
	for k := range oldDoc {
		if _, ok := newDoc[k]; !ok {
			return true
		}
	}
	return false
}

// listenerAffectingKeys are config keys that, if changed, only take effect
// after the daemon restarts its listeners.
var listenerAffectingKeys = []string{"port", "host", "daemon"}

func detectListenerChange(oldContent, newContent []byte) bool {
	var oldDoc, newDoc map[string]any
	if err := toml.Unmarshal(oldContent, &oldDoc); err != nil {
		return false
	}
	if err := toml.Unmarshal(newContent, &newDoc); err != nil {
		return false
	}
	for _, key := range listenerAffectingKeys {
		ov, oldHas := oldDoc[key]
		nv, newHas := newDoc[key]
		if oldHas != newHas {
			return true
		}
		if oldHas && fmt.Sprint(ov) != fmt.Sprint(nv) {
			return true
		}
	}
	return false
}
