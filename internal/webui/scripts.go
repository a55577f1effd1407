package webui

import "fmt"

// requireScript gives web UIs a CommonJS require() resolved against their
// own web root, plus data-include HTML fragments.
const requireScript = `(function () {
	var moduleId = %q;
	var cache = {};

	function load(p) {
		var xhr = new XMLHttpRequest();
		xhr.open("GET", p, false);
		xhr.send();
		if (xhr.status !== 200) {
			throw new Error(p + ": " + xhr.status);
		}
		return xhr.responseText;
	}

	function candidates(id) {
		var base = id.charAt(0) === "/" ? id : "/" + id.replace(/^\.\//, "");
		return [base, base + ".js", base + "/index.js"];
	}

	window.require = function (id) {
		if (cache[id]) {
			return cache[id].exports;
		}
		var module = { id: id, exports: {} };
		cache[id] = module;
		var paths = candidates(id);
		var last = null;
		for (var i = 0; i < paths.length; i++) {
			try {
				var code = load(paths[i]);
				new Function("module", "exports", "require", code + "\n//# sourceURL=" + paths[i])
					.call(module.exports, module, module.exports, window.require);
				return module.exports;
			} catch (e) {
				last = e;
			}
		}
		delete cache[id];
		throw new Error("[" + moduleId + "] cannot load " + id + ": " + (last ? last.message : "unknown"));
	};

	function includes() {
		var els = document.querySelectorAll("[data-include]");
		for (var i = 0; i < els.length; i++) {
			try {
				els[i].innerHTML = load(candidates(els[i].getAttribute("data-include"))[0]);
			} catch (e) {
				console.error(e);
			}
		}
	}

	if (document.readyState === "loading") {
		document.addEventListener("DOMContentLoaded", includes);
	} else {
		includes();
	}
})();
`

// fetchExtScript adds suFetch(), which reads absolute paths through the
// /__root__/ namespace when the module holds the root path permission.
const fetchExtScript = `(function () {
	window.suFetch = function (path, init) {
		if (path.charAt(0) !== "/") {
			return Promise.reject(new Error("suFetch: path must be absolute"));
		}
		return fetch("/__root__" + path, init);
	};
})();
`

func (s *Server) requireJS() string {
	return fmt.Sprintf(requireScript, s.opts.ModuleID)
}
