package agentrunner

// agentDriverScript is written to /run_agent.py and run as the container's
// entrypoint. It loads the agent class the kit manifest names for the
// requested profile, invokes it with an AgentContext built from env vars,
// and normalizes whatever it returns into {response, results} written to
// /result.json. All of its inputs arrive via environment variables set on
// the container, so the script itself never needs templating.
const agentDriverScript = `import asyncio
import importlib.util
import json
import os
import sys
import traceback

sys.path.insert(0, "/module")

MODULE_ID = os.environ.get("AGENT_MODULE_ID", "")
PROFILE = os.environ.get("AGENT_PROFILE", "")
USER_INPUT = os.environ.get("AGENT_USER_INPUT", "")
SESSION_ID = os.environ.get("AGENT_SESSION_ID", "")
AGENT_CLASS_NAME = os.environ.get("AGENT_CLASS_NAME", "")
RESULT_FILE_PATH = "/result.json"

try:
    from genbase_client import AgentContext
except ImportError:
    class AgentContext:
        def __init__(self, module_id="", profile="", user_input="", session_id=""):
            self.module_id = module_id
            self.profile = profile
            self.user_input = user_input
            self.session_id = session_id


def find_agent_class(class_name):
    agents_dir = "/module/agents"
    candidates = [os.path.join(agents_dir, "__init__.py")]
    if os.path.isdir(agents_dir):
        for name in sorted(os.listdir(agents_dir)):
            if name.endswith(".py") and name != "__init__.py":
                candidates.append(os.path.join(agents_dir, name))

    for path in candidates:
        if not os.path.exists(path):
            continue
        spec = importlib.util.spec_from_file_location("genbase_agent_module", path)
        if spec is None or spec.loader is None:
            continue
        module = importlib.util.module_from_spec(spec)
        try:
            spec.loader.exec_module(module)
        except Exception:
            continue
        if hasattr(module, class_name):
            return getattr(module, class_name)
    return None


async def run_agent():
    try:
        ctx = AgentContext(module_id=MODULE_ID, profile=PROFILE, user_input=USER_INPUT, session_id=SESSION_ID)

        agent_class = find_agent_class(AGENT_CLASS_NAME)
        if agent_class is None:
            raise ImportError(f"could not find agent class {AGENT_CLASS_NAME}")

        agent = agent_class(ctx)

        if asyncio.iscoroutinefunction(agent.process_request):
            result = await agent.process_request()
        else:
            result = agent.process_request()

        if not isinstance(result, dict):
            result = {"response": str(result), "results": []}
        result.setdefault("response", "")
        result.setdefault("results", [])

        with open(RESULT_FILE_PATH, "w") as f:
            json.dump(result, f)
    except Exception as exc:
        traceback.print_exc()
        with open(RESULT_FILE_PATH, "w") as f:
            json.dump({"response": f"Error: {exc}", "results": []}, f)


if __name__ == "__main__":
    asyncio.run(run_agent())
`
