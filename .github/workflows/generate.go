package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type PushTrigger struct {
	Branches []string `yaml:"branches,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

type Trigger struct {
	Push        PushTrigger `yaml:"push,omitempty"`
	PullRequest struct{}    `yaml:"pull_request"`
}

type Args map[string]interface{}

type Step struct {
	Name string            `yaml:"name,omitempty"`
	If   string            `yaml:"if,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	ID   string            `yaml:"id,omitempty"`
	Run  string            `yaml:"run,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
	With Args              `yaml:"with,omitempty"`
}

type Service struct {
	Image   string            `yaml:"image"`
	Env     map[string]string `yaml:"env,omitempty"`
	Ports   []string          `yaml:"ports,omitempty"`
	Options string            `yaml:"options,omitempty"`
}

type Job struct {
	RunsOn   string             `yaml:"runs-on"`
	Needs    []string           `yaml:"needs,omitempty"`
	Services map[string]Service `yaml:"services,omitempty"`
	Steps    []Step             `yaml:"steps"`
}

type Workflow struct {
	Name string  `yaml:"name"`
	On   Trigger `yaml:"on"`
	Jobs map[string]Job
}

const goVersion = "1.18"

var setupSteps = []Step{{
	Name: "Checkout",
	Uses: "actions/checkout@v3",
}, {
	Name: "Set up Go",
	Uses: "actions/setup-go@v3",
	With: Args{"go-version": goVersion},
}}

// JobTest runs the unit tests against a throwaway postgres so the pgdevice
// tests aren't skipped.
func JobTest() Job {
	return Job{
		RunsOn: "ubuntu-latest",
		Services: map[string]Service{
			"postgres": {
				Image: "postgres:14",
				Env:   map[string]string{"POSTGRES_PASSWORD": "postgres"},
				Ports: []string{"5432:5432"},
				Options: "--health-cmd pg_isready --health-interval 10s " +
					"--health-timeout 5s --health-retries 5",
			},
		},
		Steps: append(append([]Step(nil), setupSteps...), Step{
			Name: "Test",
			Run:  "go test -race ./...",
			Env: map[string]string{
				"PG_HOST": "localhost",
				"PG_PASS": "postgres",
			},
		}),
	}
}

// JobBuild cross-compiles the CLI for each target and uploads the binaries.
func JobBuild(targets ...string) Job {
	steps := append([]Step(nil), setupSteps...)
	for _, target := range targets {
		goos, goarch, ok := strings.Cut(target, "/")
		if !ok {
			panic(fmt.Sprintf("invalid target `%s`; wanted `os/arch`", target))
		}
		steps = append(steps, Step{
			Name: fmt.Sprintf("Build %s", target),
			Run: fmt.Sprintf(
				"GOOS=%s GOARCH=%s go build -o dist/sectorfs-%s-%s ./cmd/sectorfs",
				goos,
				goarch,
				goos,
				goarch,
			),
		})
	}
	steps = append(steps, Step{
		Name: "Upload",
		If:   "startsWith(github.ref, 'refs/tags/')",
		Uses: "actions/upload-artifact@v3",
		With: Args{"name": "sectorfs", "path": "dist/"},
	})
	return Job{RunsOn: "ubuntu-latest", Needs: []string{"test"}, Steps: steps}
}

func WorkflowCI() Workflow {
	return Workflow{
		Name: "ci",
		On: Trigger{
			Push: PushTrigger{
				Branches: []string{"*"},
				Tags:     []string{"*"},
			},
		},
		Jobs: map[string]Job{
			"test":  JobTest(),
			"build": JobBuild("linux/amd64", "linux/arm64", "darwin/arm64"),
		},
	}
}

func MarshalToWriter(w io.Writer, v interface{}) error {
	yamlEncoder := yaml.NewEncoder(w)
	yamlEncoder.SetIndent(2)
	if err := yamlEncoder.Encode(v); err != nil {
		return fmt.Errorf("marshaling to YAML: %w", err)
	}
	return nil
}

func main() {
	if err := MarshalToWriter(os.Stdout, WorkflowCI()); err != nil {
		log.Fatalf("marshaling ci workflow: %v", err)
	}
}
