package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/genbase-project/genbase/pkg/chathistory"
	"github.com/genbase-project/genbase/pkg/composer"
	"github.com/genbase-project/genbase/pkg/funcparser"
	"github.com/genbase-project/genbase/pkg/kitstore"
	"github.com/genbase-project/genbase/pkg/llmgateway"
	"github.com/genbase-project/genbase/pkg/module"
	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/profilestore"
	"github.com/genbase-project/genbase/pkg/provides"
	"github.com/genbase-project/genbase/pkg/warmpool"
	"github.com/genbase-project/genbase/pkg/workspace"
)

type moduleLookup interface {
	GetModule(ctx context.Context, moduleID string) (module.Module, error)
}

type kitLookup interface {
	GetKitConfig(owner, kitID, version string) (*kitstore.Manifest, error)
}

type edgeChecker interface {
	HasEdge(ctx context.Context, providerID, receiverID string, kind provides.ResourceKind) (bool, error)
}

type imageResolver interface {
	GetOrBuild(ctx context.Context, baseImage string, dependencies []string) (string, error)
}

type toolExecutor interface {
	ExecuteTool(ctx context.Context, req warmpool.ExecRequest) (warmpool.ToolResult, error)
}

// Deps collects every component a verb handler calls into. RegisterHandlers
// registers every verb whatever fields are set; a verb whose component is
// left nil dereferences that nil field when called.
type Deps struct {
	Modules    moduleLookup
	Kits       kitLookup
	Edges      edgeChecker
	Workspaces *workspace.Store
	ChatHist   *chathistory.Store
	Documents  *profilestore.Store
	Gateway    *llmgateway.Gateway
	Images     imageResolver
	Tools      toolExecutor
}

// RegisterHandlers builds the method-name-to-handler table the Server
// dispatches against.
func RegisterHandlers(d Deps) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"ping":                        handlePing,
		"generate_uuid":               handleGenerateUUID,
		"generate_readable_uid":       handleGenerateReadableUID,
		"get_supported_content_types": handleGetSupportedContentTypes,
		"add_message":                 d.handleAddMessage,
		"get_messages":                d.handleGetMessages,
		"chat_completion":             d.handleChatCompletion,
		"structured_output":           d.handleStructuredOutput,
		"get_profile_metadata":        d.handleGetProfileMetadata,
		"read_file":                   d.handleReadFile,
		"write_file":                  d.handleWriteFile,
		"list_files":                  d.handleListFiles,
		"get_repo_tree":               d.handleGetRepoTree,
		"profile_store_find":          d.handleProfileStoreFind,
		"profile_store_set_value":     d.handleProfileStoreSetValue,
		"profile_store_set_many":      d.handleProfileStoreSetMany,
		"profile_store_update":        d.handleProfileStoreUpdate,
		"profile_store_delete":        d.handleProfileStoreDelete,
		"profile_store_get_by_id":     d.handleProfileStoreGetByID,
		"get_provided_tools_schema":   d.handleGetProvidedToolsSchema,
		"execute_external_tool":       d.handleExecuteExternalTool,
	}
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return platformerr.New(platformerr.PlatformCallFailed, "malformed params: "+err.Error())
	}
	return nil
}

func handlePing(ctx context.Context, callerModuleID string, params json.RawMessage) (interface{}, error) {
	return map[string]string{"status": "ok"}, nil
}

func handleGenerateUUID(ctx context.Context, callerModuleID string, params json.RawMessage) (interface{}, error) {
	return map[string]string{"uuid": uuid.NewString()}, nil
}

func handleGenerateReadableUID(ctx context.Context, callerModuleID string, params json.RawMessage) (interface{}, error) {
	uid, err := module.GenerateReadableUID()
	if err != nil {
		return nil, platformerr.Wrap(platformerr.PlatformCallFailed, "generate readable uid", err)
	}
	return map[string]string{"uid": uid}, nil
}

// supportedContentTypes lists the MIME types workspace file operations
// and tool results are guaranteed to handle without surprising an agent.
var supportedContentTypes = []string{
	"text/plain", "text/markdown", "application/json", "application/yaml",
	"text/x-python", "text/csv",
}

func handleGetSupportedContentTypes(ctx context.Context, callerModuleID string, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"content_types": supportedContentTypes}, nil
}

// --- Chat History ---

type addMessageParams struct {
	Profile    string                           `json:"profile"`
	SessionID  string                           `json:"session_id"`
	Role       string                           `json:"role"`
	Content    string                           `json:"content"`
	ToolCalls  []chathistory.ToolCallDescriptor `json:"tool_calls"`
	ToolCallID string                           `json:"tool_call_id"`
	ToolName   string                           `json:"tool_name"`
}

func (d Deps) handleAddMessage(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p addMessageParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	msg, err := d.ChatHist.AddMessage(ctx, chathistory.Message{
		ModuleID: callerModuleID, Profile: p.Profile, SessionID: p.SessionID,
		Role: chathistory.Role(p.Role), Content: p.Content,
		ToolCalls: p.ToolCalls, ToolCallID: p.ToolCallID, ToolName: p.ToolName,
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

type getMessagesParams struct {
	Profile   string `json:"profile"`
	SessionID string `json:"session_id"`
}

func (d Deps) handleGetMessages(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p getMessagesParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	messages, err := d.ChatHist.GetMessages(ctx, callerModuleID, p.Profile, p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"messages": messages}, nil
}

// --- LLM Gateway ---

type completionParams struct {
	Messages   []llmgateway.Message        `json:"messages"`
	Model      string                      `json:"model"`
	Tools      []llmgateway.ToolDefinition `json:"tools"`
	ToolChoice string                      `json:"tool_choice"`
	Extra      map[string]interface{}      `json:"extra"`
	MaxContext int                         `json:"max_context_tokens"`
}

// defaultMaxContextTokens bounds the chat history the gateway will pack
// into a request when a caller doesn't name its own budget.
const defaultMaxContextTokens = 32000

func (d Deps) handleChatCompletion(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p completionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	messages, err := d.trimToContext(p)
	if err != nil {
		return nil, err
	}
	return d.Gateway.ChatCompletion(ctx, llmgateway.CompletionRequest{
		Messages: messages, Model: p.Model, Tools: p.Tools, ToolChoice: p.ToolChoice, Extra: p.Extra,
	})
}

type structuredOutputParams struct {
	completionParams
	Schema map[string]interface{} `json:"schema"`
}

func (d Deps) handleStructuredOutput(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p structuredOutputParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	messages, err := d.trimToContext(p.completionParams)
	if err != nil {
		return nil, err
	}
	return d.Gateway.StructuredOutput(ctx, llmgateway.CompletionRequest{
		Messages: messages, Model: p.Model, Tools: p.Tools, ToolChoice: p.ToolChoice, Extra: p.Extra,
	}, p.Schema)
}

func (d Deps) trimToContext(p completionParams) ([]llmgateway.Message, error) {
	budget := p.MaxContext
	if budget <= 0 {
		budget = defaultMaxContextTokens
	}
	return d.Gateway.TrimToBudget(p.Messages, p.Model, budget)
}

// --- Profile metadata ---

func (d Deps) handleGetProfileMetadata(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	mod, err := d.Modules.GetModule(ctx, callerModuleID)
	if err != nil {
		return nil, err
	}
	manifest, err := d.Kits.GetKitConfig(mod.Owner, mod.KitID, mod.Version)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"module_id": mod.ModuleID,
		"owner":     mod.Owner,
		"kit_id":    mod.KitID,
		"version":   mod.Version,
		"profiles":  manifest.Profiles,
	}, nil
}

// --- Workspace file access ---

type workspacePathParams struct {
	Path string `json:"path"`
}

func (d Deps) handleReadFile(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p workspacePathParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	mod, err := d.Modules.GetModule(ctx, callerModuleID)
	if err != nil {
		return nil, err
	}
	repoRoot := d.Workspaces.HostPath(mod.WorkspaceName)
	if !workspace.DefaultPathSafety(repoRoot, p.Path) {
		return nil, platformerr.New(platformerr.InvalidPath, fmt.Sprintf("path %q escapes workspace root", p.Path))
	}
	content, err := os.ReadFile(filepath.Join(repoRoot, p.Path))
	if err != nil {
		return nil, platformerr.Wrap(platformerr.InvalidPath, "read file", err)
	}
	return map[string]string{"content": string(content)}, nil
}

type writeFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (d Deps) handleWriteFile(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p writeFileParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	mod, err := d.Modules.GetModule(ctx, callerModuleID)
	if err != nil {
		return nil, err
	}
	if err := d.Workspaces.UpdateFile(mod.WorkspaceName, p.Path, p.Content, nil); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (d Deps) handleListFiles(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	mod, err := d.Modules.GetModule(ctx, callerModuleID)
	if err != nil {
		return nil, err
	}
	files, err := d.Workspaces.ListFiles(mod.WorkspaceName)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"files": files}, nil
}

func (d Deps) handleGetRepoTree(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	mod, err := d.Modules.GetModule(ctx, callerModuleID)
	if err != nil {
		return nil, err
	}
	files, err := d.Workspaces.ListFiles(mod.WorkspaceName)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"tree": buildTree(files)}, nil
}

// buildTree nests a flat slash-separated file list into directory ->
// children maps, terminating each leaf with nil.
func buildTree(files []string) map[string]interface{} {
	root := map[string]interface{}{}
	for _, f := range files {
		segments := strings.Split(f, "/")
		node := root
		for i, seg := range segments {
			if i == len(segments)-1 {
				node[seg] = nil
				continue
			}
			next, ok := node[seg].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				node[seg] = next
			}
			node = next
		}
	}
	return root
}

// --- Profile Document Store ---

type documentFilterParams struct {
	Profile string              `json:"profile"`
	Filter  profilestore.Filter `json:"filter"`
}

func (d Deps) handleProfileStoreFind(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p documentFilterParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	docs, err := d.Documents.Find(ctx, callerModuleID, p.Profile, p.Filter)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"documents": docs}, nil
}

func (d Deps) handleProfileStoreSetValue(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Profile string                 `json:"profile"`
		Value   map[string]interface{} `json:"value"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.Documents.SetValue(ctx, callerModuleID, p.Profile, p.Value)
}

func (d Deps) handleProfileStoreSetMany(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Profile string                   `json:"profile"`
		Values  []map[string]interface{} `json:"values"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	docs, err := d.Documents.SetMany(ctx, callerModuleID, p.Profile, p.Values)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"documents": docs}, nil
}

func (d Deps) handleProfileStoreUpdate(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Profile  string                 `json:"profile"`
		Filter   profilestore.Filter    `json:"filter"`
		NewValue map[string]interface{} `json:"new_value"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	count, err := d.Documents.Update(ctx, callerModuleID, p.Profile, p.Filter, p.NewValue)
	if err != nil {
		return nil, err
	}
	return map[string]int{"updated": count}, nil
}

func (d Deps) handleProfileStoreDelete(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Profile string              `json:"profile"`
		Filter  profilestore.Filter `json:"filter"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	count, err := d.Documents.Delete(ctx, callerModuleID, p.Profile, p.Filter)
	if err != nil {
		return nil, err
	}
	return map[string]int{"deleted": count}, nil
}

func (d Deps) handleProfileStoreGetByID(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Profile string `json:"profile"`
		ID      string `json:"id"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return d.Documents.GetByID(ctx, callerModuleID, p.Profile, p.ID)
}

// --- Provided tools ---

// handleGetProvidedToolsSchema lets a module introspect the parameter
// schema of the actions its own kit exposes through Provide.Actions, the
// same descriptors a receiver's composed tool set carries once mangled.
func (d Deps) handleGetProvidedToolsSchema(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	mod, err := d.Modules.GetModule(ctx, callerModuleID)
	if err != nil {
		return nil, err
	}
	manifest, err := d.Kits.GetKitConfig(mod.Owner, mod.KitID, mod.Version)
	if err != nil {
		return nil, err
	}

	parser := funcparser.NewParser(manifest.KitPath + "/actions")
	descriptors := make([]map[string]interface{}, 0, len(manifest.Provide.Actions))
	for _, ref := range manifest.Provide.Actions {
		parts := strings.SplitN(ref.Path, ":", 2)
		if len(parts) != 2 {
			return nil, platformerr.New(platformerr.MalformedKit, fmt.Sprintf("provided action path %q is not in \"file:function\" form", ref.Path))
		}
		descriptor, err := parser.ParseFunction(parts[0]+".py", parts[1])
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, map[string]interface{}{
			"name":        composer.MangleName(callerModuleID, ref.Name),
			"description": fmt.Sprintf("[From module: %s] %s", callerModuleID, ref.Description),
			"parameters":  descriptor.Parameters,
		})
	}
	return map[string]interface{}{"tools": descriptors}, nil
}

// --- Cross-module tool execution ---

type executeExternalToolParams struct {
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
}

func (d Deps) handleExecuteExternalTool(ctx context.Context, callerModuleID string, raw json.RawMessage) (interface{}, error) {
	var p executeExternalToolParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	providerID, toolName, ok := composer.UnmangleName(p.ToolName)
	if !ok {
		return nil, platformerr.New(platformerr.FunctionNotFound, fmt.Sprintf("tool %q is not an external tool", p.ToolName))
	}

	allowed, err := d.Edges.HasEdge(ctx, providerID, callerModuleID, provides.KindTool)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, platformerr.New(platformerr.CapabilityDenied,
			fmt.Sprintf("module %q has no tool-provides edge to %q", providerID, callerModuleID))
	}

	providerMod, err := d.Modules.GetModule(ctx, providerID)
	if err != nil {
		return nil, err
	}
	providerManifest, err := d.Kits.GetKitConfig(providerMod.Owner, providerMod.KitID, providerMod.Version)
	if err != nil {
		return nil, err
	}

	var ref *kitstore.ActionRef
	for i := range providerManifest.Provide.Actions {
		if providerManifest.Provide.Actions[i].Name == toolName {
			ref = &providerManifest.Provide.Actions[i]
			break
		}
	}
	if ref == nil {
		return nil, platformerr.New(platformerr.FunctionNotFound,
			fmt.Sprintf("module %q does not provide tool %q", providerID, toolName))
	}

	parts := strings.SplitN(ref.Path, ":", 2)
	if len(parts) != 2 {
		return nil, platformerr.New(platformerr.MalformedKit, fmt.Sprintf("provided action path %q is not in \"file:function\" form", ref.Path))
	}

	imageTag, err := d.Images.GetOrBuild(ctx, providerManifest.BaseImage, providerManifest.Dependencies)
	if err != nil {
		return nil, err
	}

	paramsJSON, err := json.Marshal(p.Parameters)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.PlatformCallFailed, "marshal tool parameters", err)
	}

	declaredPorts := make([]warmpool.DeclaredPort, 0, len(providerManifest.Ports))
	for _, port := range providerManifest.Ports {
		declaredPorts = append(declaredPorts, warmpool.DeclaredPort{Number: port.Number, Label: port.Label})
	}

	result, err := d.Tools.ExecuteTool(ctx, warmpool.ExecRequest{
		WorkspaceName:  providerMod.WorkspaceName,
		ImageTag:       imageTag,
		KitActionsDir:  providerManifest.KitPath + "/actions",
		DeclaredPorts:  declaredPorts,
		EnvVars:        providerMod.EnvVars,
		FileRelPath:    parts[0] + ".py",
		FunctionName:   parts[1],
		ParametersJSON: paramsJSON,
	})
	if err != nil {
		return nil, err
	}

	var decoded interface{}
	if err := json.Unmarshal(result.ResultJSON, &decoded); err != nil {
		return nil, platformerr.Wrap(platformerr.ToolError, "decode tool result", err)
	}
	return decoded, nil
}

