package api

import "github.com/eugenetaranov/ledgerlink/internal/deploy"

// DeployContractJarsRequest is the DeployContractJarsV1Request body.
type DeployContractJarsRequest struct {
	JarFiles []deploy.Artifact `json:"jarFiles"`
}

// DeployContractJarsResponse lists the deployed jars in request order.
type DeployContractJarsResponse struct {
	DeployedJarFiles []string `json:"deployedJarFiles"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Errors []string `json:"errors"`
}

// ListFlowsResponse lists the flows the node knows about.
type ListFlowsResponse struct {
	FlowNames []string `json:"flowNames"`
}

// StartFlowRequest carries the arguments of a flow start.
type StartFlowRequest struct {
	Args map[string]string `json:"args,omitempty"`
}

// OutputResponse carries the node shell's reply verbatim.
type OutputResponse struct {
	Output string `json:"output"`
}
