// Command testclient is a simple smoke-test client for the orchestrator's
// HTTP adapter: it submits a handful of batch requests and prints the
// responses, the way a developer would sanity-check a freshly deployed
// instance.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// executeRequest mirrors cmd/server's batch request body.
type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input,omitempty"`
}

// executeResponse mirrors cmd/server's batch response body.
type executeResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	Output      string `json:"output"`
	ExitCode    int    `json:"exitCode"`
	Error       string `json:"error,omitempty"`
}

func main() {
	testCases := []executeRequest{
		{
			Language: "python",
			Code:     "print('Hello, World!')",
		},
		{
			Language: "python",
			Code:     "print(input('Enter something: '))",
			Input:    "Test Input",
		},
		{
			Language: "javascript",
			Code:     "console.log('Hello from JavaScript');",
		},
		{
			Language: "go",
			Code:     "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"Hello from Go\")\n}",
		},
		{
			Language: "cpp",
			Code:     "#include <iostream>\nint main() { std::cout << \"Hello from C++\"; }",
		},
	}

	url := "http://localhost:3000/api/execute"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	fmt.Printf("Testing orchestrator at %s\n\n", url)

	client := &http.Client{Timeout: 30 * time.Second}

	for i, tc := range testCases {
		fmt.Printf("Test Case %d: %s\n", i+1, tc.Language)
		fmt.Printf("Code: %s\n", tc.Code)
		if tc.Input != "" {
			fmt.Printf("Input: %s\n", tc.Input)
		}

		reqBody, err := json.Marshal(tc)
		if err != nil {
			fmt.Printf("Error marshaling request: %v\n", err)
			continue
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(reqBody))
		if err != nil {
			fmt.Printf("Error creating request: %v\n", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("Error sending request: %v\n", err)
			continue
		}

		fmt.Printf("Status: %s\n", resp.Status)

		var execResp executeResponse
		if err := json.NewDecoder(resp.Body).Decode(&execResp); err != nil {
			fmt.Printf("Error decoding response: %v\n", err)
			resp.Body.Close()
			continue
		}
		resp.Body.Close()

		fmt.Printf("Execution ID: %s\n", execResp.ExecutionID)
		fmt.Printf("Output: %s\n", execResp.Output)
		fmt.Printf("Exit Code: %d\n", execResp.ExitCode)
		if execResp.Error != "" {
			fmt.Printf("Error: %s\n", execResp.Error)
		}
		fmt.Println()
	}
}
