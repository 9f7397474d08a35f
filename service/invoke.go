package service

import (
	"context"
	"fmt"

	"github.com/atelier-ml/atelier-go/rest"
	"github.com/atelier-ml/atelier-go/vm"
)

// Published is a handle to a remote service: the execution URL, its API
// key, and enough of the function's declared shape to encode calls and
// decode results.
type Published struct {
	URL       string
	APIKey    string
	HelpURL   string
	ServiceID string
	Name      string

	params     []string
	types      map[string]TypeDesc
	returns    returnSpec
	inputName  string
	outputName string
	client     *rest.Client
}

// Restore rebuilds a handle from stored endpoint data, for invoking a
// service published earlier (see History). params and opts must match
// what the service was published with.
func Restore(url, key, helpURL, serviceID, name string, params []string, opts ...Option) *Published {
	o := options{inputName: "input1", outputName: "output1"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.inputName == "" {
		o.inputName = "input1"
	}
	if o.outputName == "" {
		o.outputName = "output1"
	}
	return &Published{
		URL:        url,
		APIKey:     key,
		HelpURL:    helpURL,
		ServiceID:  serviceID,
		Name:       name,
		params:     params,
		types:      o.types,
		returns:    o.returns,
		inputName:  o.inputName,
		outputName: o.outputName,
		// Execution endpoints authorize with the per-service key, so
		// the client carries no workspace token.
		client: rest.New("", ""),
	}
}

// invokeBody is the execution request: one named input table holding the
// argument rows.
type invokeBody struct {
	Inputs           map[string]inputTable `json:"Inputs"`
	GlobalParameters map[string]any        `json:"GlobalParameters"`
}

type inputTable struct {
	ColumnNames []string   `json:"ColumnNames"`
	Values      [][]string `json:"Values"`
}

type invokeResponse struct {
	Results map[string]struct {
		Value resultTable `json:"value"`
	} `json:"Results"`
}

type resultTable struct {
	ColumnNames []string   `json:"ColumnNames"`
	ColumnTypes []string   `json:"ColumnTypes"`
	Values      [][]string `json:"Values"`
}

// Call invokes the service with one set of arguments and returns the
// decoded result.
func (p *Published) Call(ctx context.Context, args ...vm.Value) (vm.Value, error) {
	rows, err := p.encodeRows([][]vm.Value{args})
	if err != nil {
		return nil, err
	}
	table, err := p.invoke(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(table.Values) == 0 {
		return nil, fmt.Errorf("service: %s returned no result rows", p.Name)
	}
	return p.decodeRow(table, table.Values[0])
}

// Map invokes the service once for a batch of argument sets, in a single
// request, and returns the results in input order.
func (p *Published) Map(ctx context.Context, batches ...[]vm.Value) ([]vm.Value, error) {
	rows, err := p.encodeRows(batches)
	if err != nil {
		return nil, err
	}
	table, err := p.invoke(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(table.Values) != len(batches) {
		return nil, fmt.Errorf("service: %s returned %d rows for %d inputs", p.Name, len(table.Values), len(batches))
	}
	out := make([]vm.Value, len(table.Values))
	for i, row := range table.Values {
		v, err := p.decodeRow(table, row)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *Published) encodeRows(batches [][]vm.Value) ([][]string, error) {
	rows := make([][]string, len(batches))
	for i, args := range batches {
		if len(args) != len(p.params) {
			return nil, fmt.Errorf("service: %s takes %d arguments, got %d", p.Name, len(p.params), len(args))
		}
		row := make([]string, len(args))
		for j, arg := range args {
			cell, err := encodeArg(arg, p.argType(p.params[j]))
			if err != nil {
				return nil, err
			}
			row[j] = cell
		}
		rows[i] = row
	}
	return rows, nil
}

func (p *Published) argType(name string) TypeDesc {
	if t, ok := p.types[name]; ok {
		return t
	}
	return ObjectType
}

func (p *Published) invoke(ctx context.Context, rows [][]string) (*resultTable, error) {
	body := invokeBody{
		Inputs: map[string]inputTable{
			p.inputName: {ColumnNames: p.params, Values: rows},
		},
		GlobalParameters: map[string]any{},
	}
	var resp invokeResponse
	if err := p.client.PostURL(ctx, p.URL, p.APIKey, body, &resp); err != nil {
		return nil, fmt.Errorf("service: invoke %s: %w", p.Name, err)
	}
	out, ok := resp.Results[p.outputName]
	if !ok {
		return nil, fmt.Errorf("service: %s response missing output %q", p.Name, p.outputName)
	}
	return &out.Value, nil
}

// decodeRow decodes one result row according to the declared return
// shape, falling back to the response's column metadata.
func (p *Published) decodeRow(table *resultTable, row []string) (vm.Value, error) {
	r := p.returns
	switch {
	case r.tuple != nil:
		if len(row) < len(r.tuple) {
			return nil, fmt.Errorf("service: %s returned %d columns, declared %d", p.Name, len(row), len(r.tuple))
		}
		out := make(vm.Tuple, len(r.tuple))
		for i, t := range r.tuple {
			v, err := decodeCell(row[i], t)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case r.named != nil:
		d := vm.NewDict()
		for i, name := range table.ColumnNames {
			if i >= len(row) {
				break
			}
			v, err := decodeCell(row[i], p.namedColType(name, table, i))
			if err != nil {
				return nil, err
			}
			d.Set(name, v)
		}
		return d, nil

	case len(table.ColumnNames) > 1:
		d := vm.NewDict()
		for i, name := range table.ColumnNames {
			if i >= len(row) {
				break
			}
			v, err := decodeCell(row[i], columnType(table, i))
			if err != nil {
				return nil, err
			}
			d.Set(name, v)
		}
		return d, nil

	default:
		if len(row) == 0 {
			return nil, fmt.Errorf("service: %s returned an empty row", p.Name)
		}
		t := ObjectType
		if r.single != nil {
			t = *r.single
		}
		return decodeCell(row[0], t)
	}
}

func (p *Published) namedColType(name string, table *resultTable, i int) TypeDesc {
	for _, col := range p.returns.named {
		if col.Name == name {
			return col.Type
		}
	}
	return columnType(table, i)
}

// columnType builds a descriptor from the response's ColumnTypes entry,
// used when no type was declared for a column.
func columnType(table *resultTable, i int) TypeDesc {
	if i < len(table.ColumnTypes) {
		return TypeDesc{Type: table.ColumnTypes[i]}
	}
	return TypeDesc{}
}
