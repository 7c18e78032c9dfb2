package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jasona/mudforge-sub005/internal/config"
	"github.com/jasona/mudforge-sub005/internal/core/event"
	"github.com/jasona/mudforge-sub005/internal/daemon"
	"github.com/jasona/mudforge-sub005/internal/persist"
	"github.com/jasona/mudforge-sub005/internal/sandbox"
	"github.com/jasona/mudforge-sub005/internal/world"
)

// worldBridge exposes the object graph to scripts. Scripts only run from
// the game loop goroutine, so plain registry access is safe; every value
// crosses the boundary as a snapshot clone.
type worldBridge struct {
	reg *world.Registry
	bus *event.Bus
}

func (b *worldBridge) FindObject(spec string) (map[string]any, bool) {
	o, ok := b.reg.Lookup(spec)
	if !ok || o.Destroyed() {
		return nil, false
	}
	return o.Snapshot(), true
}

func (b *worldBridge) CloneObject(path string) (map[string]any, error) {
	o, err := b.reg.CloneObject(path)
	if err != nil {
		return nil, err
	}
	return o.Snapshot(), nil
}

func (b *worldBridge) Destruct(id string) error {
	o, ok := b.reg.Lookup(id)
	if !ok {
		return fmt.Errorf("no such object: %s", id)
	}
	oid, path := o.ID(), o.Path()
	o.Destroy()
	event.Emit(b.bus, event.ObjectDestroyed{ID: oid, Path: path})
	return nil
}

func (b *worldBridge) SendLine(playerID, line string) error {
	o, ok := b.reg.Lookup(playerID)
	if !ok {
		return fmt.Errorf("no such object: %s", playerID)
	}
	p, ok := o.AsPlayer()
	if !ok {
		return fmt.Errorf("%s is not a player", playerID)
	}
	p.SendLine(line)
	return nil
}

// fileBridge routes script file access through the virtual tree stored
// under the scriptfs namespace, gated by the permission table. The actor
// level is set by whoever triggers the script; game-loop owned.
type fileBridge struct {
	store persist.Store
	perms *daemon.Permissions
	actor world.PermLevel
}

const fileNamespace = "scriptfs"

func (f *fileBridge) SetActor(lvl world.PermLevel) { f.actor = lvl }

func (f *fileBridge) ReadFile(path string) (string, error) {
	return f.readAs(f.actor, path)
}

func (f *fileBridge) WriteFile(path, content string) error {
	return f.writeAs(f.actor, path, content)
}

func (f *fileBridge) readAs(_ world.PermLevel, path string) (string, error) {
	norm, err := sandbox.NormalizePath(path)
	if err != nil {
		return "", err
	}
	data, err := f.store.LoadData(context.Background(), fileNamespace, fileKey(norm))
	if err != nil {
		return "", err
	}
	if data == nil {
		return "", fmt.Errorf("no such file: %s", norm)
	}
	content, _ := data["content"].(string)
	return content, nil
}

func (f *fileBridge) writeAs(lvl world.PermLevel, path, content string) error {
	norm, err := sandbox.NormalizePath(path)
	if err != nil {
		return err
	}
	if !f.perms.CanWrite(lvl, norm) {
		return fmt.Errorf("permission denied: %s", norm)
	}
	return f.store.SaveData(context.Background(), fileNamespace, fileKey(norm), map[string]any{
		"content":  content,
		"saved_at": time.Now().UnixMilli(),
	})
}

// fileKey flattens a normalized path into a storage-safe key.
func fileKey(norm string) string {
	return strings.ReplaceAll(strings.TrimPrefix(norm, "/"), "/", "__")
}

// aiClient generates NPC dialogue through a chat-completion API. Calls
// inherit the script's timeout context; an unset key disables the
// feature rather than failing the boot.
type aiClient struct {
	apiKey string
	url    string
	httpc  *http.Client
	log    *zap.Logger
}

const defaultAIEndpoint = "https://api.openai.com/v1/chat/completions"

func newAIClient(cfg config.AIConfig, log *zap.Logger) *aiClient {
	return &aiClient{
		apiKey: cfg.APIKey,
		url:    defaultAIEndpoint,
		httpc:  &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

func (a *aiClient) Generate(ctx context.Context, prompt string, opts map[string]any) (string, error) {
	if a.apiKey == "" {
		return "", errors.New("ai: no api key configured")
	}
	model := "gpt-4o-mini"
	if m, ok := opts["model"].(string); ok && m != "" {
		model = m
	}
	maxTokens := 256
	if n, ok := opts["max_tokens"].(float64); ok && n > 0 {
		maxTokens = int(n)
	}
	reqBody, err := json.Marshal(map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai: status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("ai: empty response")
	}
	return out.Choices[0].Message.Content, nil
}
