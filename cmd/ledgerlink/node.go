package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eugenetaranov/ledgerlink/internal/nodeshell"
	"github.com/eugenetaranov/ledgerlink/internal/output"
	"github.com/eugenetaranov/ledgerlink/pkg/client"
)

// flowsCmd groups flow commands
var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "List and start flows on the node",
}

var flowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the flows registered on the node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := loadPlugin(true)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		flows, err := p.ListFlows(ctx)
		if err != nil {
			return err
		}
		newOutput().List("FLOWS", nodeshell.FilterEmpty(flows))
		return nil
	},
}

var flowsStartCmd = &cobra.Command{
	Use:   "start <flowName>",
	Short: "Start a flow",
	Long: `Start a flow on the node and print the shell's reply.

Examples:
  ledgerlink flows start net.corda.samples.example.flows.ExampleFlow\$Initiator \
    --arg iouValue=10 --arg otherParty="O=PartyB, L=New York, C=US"`,
	Args: cobra.ExactArgs(1),
	RunE: runFlowStart,
}

func init() {
	flowsStartCmd.Flags().StringArray("arg", nil, "Flow argument (key=value), repeatable")

	flowsCmd.AddCommand(flowsListCmd)
	flowsCmd.AddCommand(flowsStartCmd)
	vaultCmd.AddCommand(vaultQueryCmd)

	deployCmd.Flags().String("url", "http://127.0.0.1:8080", "Base URL of a running ledgerlink server")
	deployCmd.Flags().Int("retries", 2, "Retries on connection errors and 5xx answers")
	deployCmd.Flags().Duration("timeout", 10*time.Minute, "Timeout for the whole request")
}

func runFlowStart(cmd *cobra.Command, args []string) error {
	raw, err := cmd.Flags().GetStringArray("arg")
	if err != nil {
		return err
	}
	flowArgs, err := parseFlowArgs(raw)
	if err != nil {
		return err
	}

	p, _, err := loadPlugin(true)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	reply, err := p.StartFlow(ctx, nodeshell.FlowInvocation{FlowName: args[0], Args: flowArgs})
	if err != nil {
		return err
	}
	newOutput().Raw(reply)
	return nil
}

// parseFlowArgs turns key=value pairs into a map. Values may contain "=".
func parseFlowArgs(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", kv)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("duplicate --arg %q", key)
		}
		out[key] = value
	}
	return out, nil
}

// vaultCmd groups vault commands
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Query the node's vault",
}

var vaultQueryCmd = &cobra.Command{
	Use:   "query <contractStateType>",
	Short: "Query states of a contract state type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := loadPlugin(true)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		reply, err := p.QueryVault(ctx, args[0])
		if err != nil {
			return err
		}
		newOutput().Raw(reply)
		return nil
	},
}

// deployCmd uploads jars through a running server
var deployCmd = &cobra.Command{
	Use:   "deploy <jar> [jar2 ...]",
	Short: "Deploy contract jars through a ledgerlink server",
	Long: `Send contract jars to a running ledgerlink server, which writes them to
the node and restarts it.

Examples:
  ledgerlink deploy build/libs/workflows.jar build/libs/contracts.jar
  ledgerlink deploy --url http://connector:8080 workflows.jar`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	retries, _ := cmd.Flags().GetInt("retries")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	jars := make([]client.Artifact, 0, len(args))
	for _, path := range args {
		jar, err := client.ArtifactFromFile(path)
		if err != nil {
			return err
		}
		jars = append(jars, jar)
	}

	out := newOutput()
	out.DeployStart(url, len(jars))
	started := time.Now()

	ctx, cancel := signalContext()
	defer cancel()

	c := client.New(url,
		client.WithTimeout(timeout),
		client.WithRetry(retries, time.Second, 10*time.Second),
	)
	deployed, err := c.DeployContractJars(ctx, jars)
	if err != nil {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			return err
		}
		for _, msg := range apiErr.Errors {
			out.Item("error", output.StatusFailed, msg)
		}
		out.DeployEnd(0, len(apiErr.Errors), time.Since(started))
		return fmt.Errorf("deployment failed with HTTP %d", apiErr.StatusCode)
	}

	for _, name := range deployed {
		out.Item(name, output.StatusOK, "")
	}
	out.DeployEnd(len(deployed), 0, time.Since(started))
	return nil
}
