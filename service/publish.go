package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/atelier-ml/atelier-go/closure"
	"github.com/atelier-ml/atelier-go/rest"
	"github.com/atelier-ml/atelier-go/vm"
	"github.com/atelier-ml/atelier-go/workspace"
)

var log = commonlog.GetLogger("atelier.service")

// bundleLanguage names the runtime the uploaded bundle targets.
const bundleLanguage = "atelier-vm-1"

// Attachment is an extra file shipped alongside the code bundle.
type Attachment struct {
	Name     string
	Contents []byte
}

// Option adjusts publishing.
type Option func(*options)

type options struct {
	name        string
	serviceID   string
	inputName   string
	outputName  string
	types       map[string]TypeDesc
	returns     returnSpec
	attachments []Attachment
	history     *History
}

// returnSpec is the declared shape of the result: exactly one of the
// fields is set. Nothing set means a single untyped result.
type returnSpec struct {
	single *TypeDesc
	tuple  []TypeDesc
	named  []NamedReturn
}

// NamedReturn declares one column of a named multi-value result.
type NamedReturn struct {
	Name string
	Type TypeDesc
}

// WithTypes declares argument types by parameter name. Undeclared
// parameters default to the object descriptor.
func WithTypes(types map[string]TypeDesc) Option {
	return func(o *options) { o.types = types }
}

// WithReturns declares a single result type.
func WithReturns(t TypeDesc) Option {
	return func(o *options) { o.returns = returnSpec{single: &t} }
}

// WithReturnTuple declares a positional multi-value result.
func WithReturnTuple(types ...TypeDesc) Option {
	return func(o *options) { o.returns = returnSpec{tuple: types} }
}

// WithNamedReturns declares a named multi-value result; column order is
// the declaration order.
func WithNamedReturns(cols ...NamedReturn) Option {
	return func(o *options) { o.returns = returnSpec{named: cols} }
}

// WithName overrides the service name shown in the workspace. Defaults to
// the function's name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithServiceID publishes to an existing service id, replacing its
// current version and keeping its endpoint.
func WithServiceID(id string) Option {
	return func(o *options) { o.serviceID = strings.ReplaceAll(id, "-", "") }
}

// WithInputName overrides the request table name, "input1" by default.
func WithInputName(name string) Option {
	return func(o *options) { o.inputName = name }
}

// WithOutputName overrides the response table name, "output1" by default.
func WithOutputName(name string) Option {
	return func(o *options) { o.outputName = name }
}

// WithAttachment ships an extra file with the bundle.
func WithAttachment(name string, contents []byte) Option {
	return func(o *options) {
		o.attachments = append(o.attachments, Attachment{Name: name, Contents: contents})
	}
}

// WithHistory records the published service in a local history store.
func WithHistory(h *History) Option {
	return func(o *options) { o.history = h }
}

// codeBundle is the upload body's inner payload.
type codeBundle struct {
	InputSchema  map[string]TypeDesc `json:"InputSchema"`
	OutputSchema map[string]TypeDesc `json:"OutputSchema"`
	Language     string              `json:"Language"`
	SourceCode   string              `json:"SourceCode"`
	ZipContents  string              `json:"ZipContents,omitempty"`
}

type publishBody struct {
	Name       string     `json:"Name"`
	Type       string     `json:"Type"`
	CodeBundle codeBundle `json:"CodeBundle"`
}

type publishResponse struct {
	DefaultEndpointName string `json:"DefaultEndpointName"`
}

type endpointResponse struct {
	ApiLocation  string `json:"ApiLocation"`
	PrimaryKey   string `json:"PrimaryKey"`
	HelpLocation string `json:"HelpLocation"`
}

// Publish serializes fn's closure, uploads it as a web service in the
// workspace, and resolves the default endpoint into a callable handle.
func Publish(ctx context.Context, ws *workspace.Workspace, fn *vm.Function, opts ...Option) (*Published, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = fn.Name
	}
	if o.serviceID == "" {
		o.serviceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if o.inputName == "" {
		o.inputName = "input1"
	}
	if o.outputName == "" {
		o.outputName = "output1"
	}

	blob, err := closure.Serialize(fn)
	if err != nil {
		return nil, fmt.Errorf("service: serialize %s: %w", fn.Name, err)
	}

	bundle := codeBundle{
		InputSchema:  inputSchema(fn, o.types),
		OutputSchema: outputSchema(o.returns),
		Language:     bundleLanguage,
		SourceCode:   bootstrapSource(fn.Name, blob),
	}
	if len(o.attachments) > 0 {
		zipped, err := zipAttachments(o.attachments)
		if err != nil {
			return nil, err
		}
		bundle.ZipContents = base64.StdEncoding.EncodeToString(zipped)
	}

	body := publishBody{Name: o.name, Type: "Code", CodeBundle: bundle}

	client := rest.New(ws.ManagementEndpoint, ws.Token)
	if ws.HTTP != nil {
		client.HTTP = ws.HTTP
	}

	path := fmt.Sprintf("/workspaces/%s/webservices/%s", ws.ID, o.serviceID)
	var resp publishResponse
	if err := client.PutJSON(ctx, path, body, &resp); err != nil {
		return nil, fmt.Errorf("service: publish %s: %w", o.name, err)
	}

	var ep endpointResponse
	epPath := path + "/endpoints/" + resp.DefaultEndpointName
	if err := client.GetJSON(ctx, epPath, &ep); err != nil {
		return nil, fmt.Errorf("service: resolve endpoint for %s: %w", o.name, err)
	}

	pub := &Published{
		URL:        ep.ApiLocation + "/execute?api-version=2.0",
		APIKey:     ep.PrimaryKey,
		HelpURL:    ep.HelpLocation + "/score",
		ServiceID:  o.serviceID,
		Name:       o.name,
		params:     fn.Chunk.Params,
		types:      o.types,
		returns:    o.returns,
		inputName:  o.inputName,
		outputName: o.outputName,
		client:     client,
	}

	log.Infof("published %s as service %s", o.name, o.serviceID)

	if o.history != nil {
		if err := o.history.Record(ctx, pub); err != nil {
			return nil, fmt.Errorf("service: record history for %s: %w", o.name, err)
		}
	}
	return pub, nil
}

func inputSchema(fn *vm.Function, declared map[string]TypeDesc) map[string]TypeDesc {
	schema := make(map[string]TypeDesc, len(fn.Chunk.Params))
	for _, p := range fn.Chunk.Params {
		if t, ok := declared[p]; ok {
			schema[p] = t
		} else {
			schema[p] = ObjectType
		}
	}
	return schema
}

func outputSchema(r returnSpec) map[string]TypeDesc {
	switch {
	case r.tuple != nil:
		schema := make(map[string]TypeDesc, len(r.tuple))
		for i, t := range r.tuple {
			schema[fmt.Sprintf("result%d", i)] = t
		}
		return schema
	case r.named != nil:
		schema := make(map[string]TypeDesc, len(r.named))
		for _, col := range r.named {
			schema[col.Name] = col.Type
		}
		return schema
	case r.single != nil:
		return map[string]TypeDesc{"result": *r.single}
	default:
		return map[string]TypeDesc{"result": ObjectType}
	}
}

// bootstrapSource is the text the execution runtime evaluates to rebuild
// the closure. The blob rides inline as base64 so the bundle stays a
// single JSON document.
func bootstrapSource(entry string, blob []byte) string {
	var b strings.Builder
	b.WriteString(";; atelier-vm bootstrap v1\n")
	b.WriteString(";; entry: " + entry + "\n")
	b.WriteString("(define __user_function\n")
	b.WriteString("  (load-closure \"")
	b.WriteString(base64.StdEncoding.EncodeToString(blob))
	b.WriteString("\"))\n")
	return b.String()
}

func zipAttachments(files []Attachment) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			return nil, fmt.Errorf("service: zip attachment %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Contents); err != nil {
			return nil, fmt.Errorf("service: zip attachment %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("service: finish attachment archive: %w", err)
	}
	return buf.Bytes(), nil
}
