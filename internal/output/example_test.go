package output_test

import (
	"fmt"

	"github.com/blackwell-systems/crucible/internal/output"
	"github.com/blackwell-systems/crucible/internal/plan"
)

// Example showing how the compile stage drives a progress bar.
func ExampleProgressBar() {
	progress := output.NewProgress(3, "Compiling")
	for i := 0; i < 3; i++ {
		// ... compile one translation unit ...
		progress.Increment()
	}
	progress.Finish()
}

// Example showing how test results are rendered after the test stage.
func ExampleRenderTestResults() {
	results := []plan.TestResult{
		{Path: "out/foo/foo.test", ExitCode: 0},
	}
	fmt.Print(output.RenderTestResults(results))
	// Output:
	// PASS  out/foo/foo.test
	//
	// 1/1 tests passed
}
