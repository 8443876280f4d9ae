// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

const (
	RegistryNotFoundId Id = iota + 1
	RegistryParseErrorId
	WorkflowParseErrorId
	UnknownEnvironmentId
	StageCycleId
	NoCellsSelectedId
	RuntimeNotAvailableId
	ContainerEngineNotFoundId
	InterpreterNotFoundId
	ConfigLoadFailedId
	ResultLogNotFoundId
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the Markdown body of a catalog entry.
	MarkdownMsg string

	// HttpLink is a documentation or external link.
	HttpLink string

	// Issue is a Markdown explanation with remediation steps, rendered for
	// the terminal when a known failure reaches the CLI.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the entry with the given glamour style ("dark", "light",
// "auto" or a style file path).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("\n- <" + string(link) + ">")
		}
		for _, link := range i.extLinks {
			md.WriteString("\n- <" + string(link) + ">")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	registryNotFoundIssue = &Issue{
		id: RegistryNotFoundId,
		mdMsg: `
# No environment registry found!

envmatrix reads its environments from ` + "`envmatrix.ini`" + ` in the current directory.

## Things you can try:
- Create a registry with a default block and one environment:
~~~ini
[defaults]
commands =
    pytest -v

[env:py311]
base_interpreter = 3.11
~~~

- Or point at another file:
~~~
$ envmatrix run --registry path/to/envmatrix.ini
~~~`,
	}

	registryParseErrorIssue = &Issue{
		id: RegistryParseErrorId,
		mdMsg: `
# Failed to parse the environment registry!

The registry contains a malformed section or key.

## Common issues:
- A section header other than ` + "`[defaults]`" + ` or ` + "`[env:<name>]`" + `
- The same key written twice in one section
- A continuation line (indented) without a preceding key
- An environment without any command after merging with ` + "`[defaults]`" + `

## Things you can try:
- Check the line number reported in the error
- Print the resolved environments:
~~~
$ envmatrix list-environments
~~~`,
	}

	workflowParseErrorIssue = &Issue{
		id: WorkflowParseErrorId,
		mdMsg: `
# Failed to parse the matrix workflow!

The workflow file does not match the expected shape.

## Expected shape:
~~~yaml
stages:
  - name: lint
    cells:
      - environment: lint
  - name: test
    needs: [lint]
    environment: "py{runtimeVersion}-{toggleFlags}"
    axes:
      - name: runtimeVersion
        values: ["3.11", "3.12"]
      - name: toggleFlags
        values: ["", "cov"]
~~~

## Things you can try:
- Check the CUE path or YAML line reported in the error
- Print the expanded matrix:
~~~
$ envmatrix list-cells --workflow matrix.yml
~~~`,
	}

	unknownEnvironmentIssue = &Issue{
		id: UnknownEnvironmentId,
		mdMsg: `
# A matrix cell names an unknown environment!

Every cell must map onto an ` + "`[env:<name>]`" + ` section of the registry.

## Things you can try:
- List the environments the registry declares:
~~~
$ envmatrix list-environments
~~~
- Check the stage's ` + "`environment`" + ` template against the axis values
- Empty toggle values are collapsed: ` + "`py{runtimeVersion}-{toggleFlags}`" + ` renders ` + "`py3.11`" + ``,
	}

	stageCycleIssue = &Issue{
		id: StageCycleId,
		mdMsg: `
# Stage dependencies form a cycle!

The ` + "`needs`" + ` entries of the workflow cannot be ordered.

## Things you can try:
- Remove one of the ` + "`needs`" + ` edges listed in the error
- Make sure every stage named in ` + "`needs`" + ` exists`,
	}

	noCellsSelectedIssue = &Issue{
		id: NoCellsSelectedId,
		mdMsg: `
# No matrix cell matches the selector!

The selector may be ` + "`all`" + `, a stage name, a cell ID, an environment name or a glob over cell IDs.

## Things you can try:
- List the cells and their IDs:
~~~
$ envmatrix list-cells
~~~
- Quote globs so the shell does not expand them:
~~~
$ envmatrix run 'test:py3*'
~~~`,
	}

	runtimeNotAvailableIssue = &Issue{
		id: RuntimeNotAvailableId,
		mdMsg: `
# Runtime not available!

The configured runtime cannot provision environments on this host.

## Runtimes:
- **host**: commands run through the platform shell
- **virtual**: commands run in the built-in shell interpreter
- **container**: one Docker or Podman container per cell

## Things you can try:
- Select another runtime:
~~~
$ envmatrix run --runtime virtual
~~~
- Set ` + "`runtime.kind`" + ` in your config file`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# Container engine not found!

The container runtime needs Docker or Podman.

## Things you can try:
- Install Podman: https://podman.io/getting-started/installation
- Install Docker: https://docs.docker.com/get-docker/
- Check that the daemon is running:
~~~
$ docker version
$ podman version
~~~
- Select the engine with ` + "`container.engine`" + ` in your config file`,
	}

	interpreterNotFoundIssue = &Issue{
		id: InterpreterNotFoundId,
		mdMsg: `
# No matching interpreter!

An environment asked for a base interpreter that is not on PATH.
The cell was skipped.

## How versions are looked up:
- ` + "`3.11`" + ` and ` + "`py311`" + ` look for ` + "`python3.11`" + `
- no version looks for ` + "`python3`" + `, then ` + "`python`" + `
- any other value is used as the executable name

## Things you can try:
- Install the interpreter, or use the container runtime
- Set ` + "`default_interpreter`" + ` in your config file`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

The configuration file could not be loaded.

## Things you can try:
- Check the file for CUE syntax errors
- Print the effective configuration:
~~~
$ envmatrix config show
~~~
- Override single keys with ` + "`ENVMATRIX_`" + ` variables, e.g. ` + "`ENVMATRIX_RUNTIME_KIND=virtual`" + ``,
	}

	resultLogNotFoundIssue = &Issue{
		id: ResultLogNotFoundId,
		mdMsg: `
# Result log not found!

` + "`envmatrix report`" + ` renders a result log written by ` + "`envmatrix run`" + `.

## Things you can try:
- Logs are written to ` + "`.envmatrix/runs/<run-id>.json`" + ` unless ` + "`results.path`" + ` says otherwise
- Write the log of a run to a known path:
~~~
$ envmatrix run --results out/run.json
~~~`,
	}

	issues = map[Id]*Issue{
		registryNotFoundIssue.Id():        registryNotFoundIssue,
		registryParseErrorIssue.Id():      registryParseErrorIssue,
		workflowParseErrorIssue.Id():      workflowParseErrorIssue,
		unknownEnvironmentIssue.Id():      unknownEnvironmentIssue,
		stageCycleIssue.Id():              stageCycleIssue,
		noCellsSelectedIssue.Id():         noCellsSelectedIssue,
		runtimeNotAvailableIssue.Id():     runtimeNotAvailableIssue,
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		interpreterNotFoundIssue.Id():     interpreterNotFoundIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		resultLogNotFoundIssue.Id():       resultLogNotFoundIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
}

func Get(id Id) *Issue {
	return issues[id]
}
