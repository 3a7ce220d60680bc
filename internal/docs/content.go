package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Getting started with synthflow",
		Content: topicQuickstart,
	},
	{
		Name:    "config",
		Title:   "Configuration Reference",
		Summary: "Config file schema, fields, and defaults",
		Content: topicConfig,
	},
	{
		Name:    "tools",
		Title:   "Retrieval Tools",
		Summary: "The five evidence tools, their arguments and failures",
		Content: topicTools,
	},
	{
		Name:    "pipeline",
		Title:   "Execution Model",
		Summary: "Evidence stage, generation stage, events and aborts",
		Content: topicPipeline,
	},
	{
		Name:    "modules",
		Title:   "Module Grammar",
		Summary: "The restricted GMF subset the validator accepts",
		Content: topicModules,
	},
	{
		Name:    "artifacts",
		Title:   "Artifacts Directory",
		Summary: "Structure of .synthflow/artifacts/ and what gets saved",
		Content: topicArtifacts,
	},
	{
		Name:    "mcp",
		Title:   "MCP Server",
		Summary: "Serving the tools and validator to MCP clients",
		Content: topicMCP,
	},
}

const topicQuickstart = `QUICK START

synthflow turns a natural-language request such as "Generate a module for
asthma" into a Synthea Generic Module Framework (GMF) JSON module. It first
gathers evidence with retrieval tools (PubMed, PubMed Central,
ClinicalTrials.gov, local documents), then drafts a module from that evidence
and repairs it until it passes the validator.

  1. synthflow init                 create .synthflow/config.yaml
  2. export OPENAI_API_KEY=...      or set model.backend: claude
  3. synthflow doctor               check keys, backend and cache
  4. synthflow run "Generate a module for asthma" --out asthma.json

Use --pdf-dir DIR to point the evidence stage at local PDFs, text and
markdown files. Use "synthflow chat" for an interactive session where each
line is an independent run.

No code in an accepted module is invented: every terminology code either
appears in a retrieved source or is replaced by a placeholder.`

const topicConfig = `CONFIGURATION REFERENCE

The config file is .synthflow/config.yaml, found by walking up from the
current directory. --config PATH overrides it. Without a file every default
applies.

name                          project name (default: synthflow)

model:
  backend                     openai | claude (default: openai)
  name                        model name (openai default gpt-4o-mini,
                              claude default sonnet; claude accepts
                              opus, sonnet, haiku)
  base-url                    OpenAI-compatible endpoint override
  api-key-env                 variable holding the key (default OPENAI_API_KEY)
  timeout                     seconds per generation call (default 120)
  temperature                 0..2

evidence:
  max-tool-calls              tool-call cap per run (default 12)
  max-observation-chars       tool output shown to the model per call
                              (default 12000)

generation:
  max-attempts                initial draft plus repairs (default 3,
                              minimum 2)

tools:
  ncbi-api-key-env            variable holding an NCBI key (default
                              NCBI_API_KEY); raises the rate limit from 3
                              to 10 requests per second
  ncbi-base-url               E-utilities base URL
  trials-base-url             ClinicalTrials.gov v2 studies URL
  timeout                     seconds per tool call (default 20)
  max-results                 upper bound for search results (default 50)
  cache:
    backend                   memory | redis | none (default memory)
    redis-addr                default localhost:6379
    ttl                       minutes (default 60)

log:
  level                       debug | info | warn | error
  format                      console | json

metrics:
  addr                        serve Prometheus /metrics here, e.g. ":9090"

tracing:
  enabled                     export OpenTelemetry spans over OTLP/gRPC
  endpoint                    collector address (default localhost:4317)
  service-name                default synthflow

artifacts-dir                 where --save writes runs
                              (default .synthflow/artifacts)

Secrets are never read from the file, only from the named variables.`

const topicTools = `RETRIEVAL TOOLS

Every tool call goes through the registry, which checks arguments against
the tool's schema before calling it. A call never aborts a run: an unknown
tool, bad arguments, a network error or a missing file comes back as a
failure record that the evidence stage reads like any other observation.

literature-search(term, max_results=10)
    PubMed search. Returns PMIDs with title, journal, date and URL.

literature-fulltext(id)
    Metadata and abstract for a PMID, plus the PubMed Central body text
    when a free full text exists.

trial-search(condition, max_results=10)
    ClinicalTrials.gov studies for a condition.

trial-detail(id)
    One study by NCT number (NCT followed by 8 digits): eligibility,
    design, arms, interventions, outcomes and locations.

local-document-extract(directory_path)
    Text of every PDF, .txt and .md file in a directory (not recursive).
    Files with no extractable text are marked as unreadable.

Failure kinds: unknown_tool, invalid_arguments, tool_failure.

Try a tool directly:
    synthflow tools
    synthflow tool literature-search term=asthma max_results=3`

const topicPipeline = `EXECUTION MODEL

A run has two stages and a fresh context; nothing carries over between runs.

Evidence stage
    Reason, then either call a tool or finalize. The stage may not finalize
    before at least one tool call. After evidence.max-tool-calls calls,
    further calls are refused and the model is told to finalize. After
    max-tool-calls + 4 reasoning steps the stage ends without evidence.

    A run whose evidence stage ends without summary text aborts. The
    generation stage never sees empty evidence.

Generation stage
    Draft, validate, and repair up to generation.max-attempts times. A
    valid draft has every code not found in a retrieved source replaced by
    its placeholder, is validated again, and is accepted. When attempts run
    out the run aborts with the last diagnostic.

Events
    reasoning-fragment, tool-call, tool-result, final-output, run-failed.
    Each carries the run ID and a sequence number and is delivered as it
    happens. --events FILE writes them as JSON lines.

Exit status is 0 when a module is accepted and 1 otherwise.`

const topicModules = `MODULE GRAMMAR

The validator accepts a restricted subset of GMF and reports the first
failing layer:

syntax    well-formed JSON; root object with "name", integer "gmf_version",
          optional string array "remarks", and a non-empty "states" object
          whose values each have a string "type".

policy    state types: Initial, Terminal, Guard, Encounter, EncounterEnd,
          ConditionOnset, MedicationOrder, Procedure, Observation, Death.
          Exactly one Initial state, named "Initial"; at least one Terminal.
          Every non-terminal state has one "direct_transition" to an existing
          state; terminals have none. Every state is reachable and the path
          from Initial ends in a Terminal. MedicationOrder and Procedure sit
          between an Encounter and its EncounterEnd.
          Forbidden anywhere: exact, range, unit, quantity, value_quantity,
          distribution, and every transition kind except direct_transition.
          Code systems: SNOMED-CT, RxNorm, LOINC.

codes     checked during generation, not by "synthflow validate": a code
          must appear in a retrieved source or be a placeholder.

Placeholders:
    SNOMED-CT 999999    RxNorm 999999    LOINC 99999-9

Validate a file:
    synthflow validate module.json`

const topicArtifacts = `ARTIFACTS DIRECTORY

"synthflow run --save" writes one directory per run:

.synthflow/artifacts/<run-id>/
  run.json        run ID, request, status, error, tool-call count
  audit.json      every tool invocation record, in order
  events.jsonl    the event stream
  evidence.md     the evidence summary, when the evidence stage finished
  module.json     the accepted module, indented
  timing.json     start, end and duration of each stage

Runs never read these files back. "synthflow doctor --diagnose" reads the most
recent aborted run to explain what went wrong.`

const topicMCP = `MCP SERVER

"synthflow serve" speaks the Model Context Protocol over stdio. It exposes
each retrieval tool under its registry name (arguments object in, invocation
record out) and validate_module (module text in, diagnostic out).

Example client entry:

  {
    "mcpServers": {
      "synthflow": {"command": "synthflow", "args": ["serve"]}
    }
  }

Sessions share the tool registry read-only and the configured cache.`

