package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mstarongithub/scanout/common/ipc"
	"github.com/spf13/cobra"
	"gitlab.com/mstarongitlab/goutils/sliceutils"
	"gopkg.in/yaml.v3"
)

// Tool mode asks a running instance through its debug api

type toolFlags struct {
	addr       string
	asYAML     bool
	mappedOnly bool
}

func (f *toolFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "Debug api of the running instance, defaults to debug_addr")
	cmd.Flags().BoolVar(&f.asYAML, "yaml", false, "Print the raw answer as YAML")
	cmd.Flags().BoolVar(&f.mappedOnly, "mapped", false, "Only show outputs placed in the layout")
}

func newOutputsCmd() *cobra.Command {
	flags := &toolFlags{}
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List the outputs of a running instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.show(cmd, ipc.OutputRequest{})
		},
	}
	flags.register(cmd)
	return cmd
}

func newModesCmd() *cobra.Command {
	flags := &toolFlags{}
	var outputName string
	cmd := &cobra.Command{
		Use:   "modes",
		Short: "List the modes of an output of a running instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outputName == "" {
				return fmt.Errorf("output has to be specified with --output")
			}
			return flags.show(cmd, ipc.OutputRequest{
				IncludeModes:    true,
				SpecifiesOutput: true,
				TargetOutput:    outputName,
			})
		},
	}
	cmd.Flags().StringVar(&outputName, "output", "", "Output to list the modes of")
	flags.register(cmd)
	return cmd
}

func (f *toolFlags) show(cmd *cobra.Command, req ipc.OutputRequest) error {
	addr := f.addr
	if addr == "" {
		addr = conf.DebugAddr
	}
	if addr == "" {
		return fmt.Errorf("no debug api address, set debug_addr or pass --addr")
	}
	res, err := queryOutputs(cmd.Context(), addr, req)
	if err != nil {
		return err
	}
	if f.mappedOnly {
		res = mappedOutputs(res)
	}
	if req.SpecifiesOutput && res.OutputsFound == 0 {
		return fmt.Errorf("output %s not found", req.TargetOutput)
	}
	if f.asYAML {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(res)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), formatOutputs(res))
	return err
}

func queryOutputs(ctx context.Context, addr string, req ipc.OutputRequest) (ipc.OutputResponse, error) {
	var res ipc.OutputResponse
	q := url.Values{}
	if req.IncludeModes {
		q.Set("modes", "true")
	}
	if req.SpecifiesOutput {
		q.Set("output", req.TargetOutput)
	}
	u := url.URL{Scheme: "http", Host: addr, Path: "/outputs", RawQuery: q.Encode()}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return res, err
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return res, fmt.Errorf("querying %s: %w", u.String(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("querying %s: %s", u.String(), resp.Status)
	}
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decoding outputs: %w", err)
	}
	return res, nil
}

// mappedOutputs drops every output that is not placed in the layout
func mappedOutputs(res ipc.OutputResponse) ipc.OutputResponse {
	details := sliceutils.Filter(res.Details, func(info ipc.OutputInfo) bool {
		return info.Mapped
	})
	out := ipc.OutputResponse{Details: details, OutputsFound: len(details)}
	for _, info := range details {
		out.Outputs = append(out.Outputs, info.Name)
		if modes, ok := res.OutputModes[info.Name]; ok {
			if out.OutputModes == nil {
				out.OutputModes = map[string][]ipc.OutputMode{}
			}
			out.OutputModes[info.Name] = modes
		}
	}
	return out
}
