package builder

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/plan"
	"github.com/blackwell-systems/crucible/internal/sdist"
)

// catchHeader is the embedded single-header test harness emitted for the
// "catch" and "catch_main" test drivers. It supplies the Catch-style
// TEST_CASE/CHECK/REQUIRE surface; defining CRUCIBLE_CATCH_MAIN in one
// translation unit supplies main().
const catchHeader = `#pragma once

#include <cstdio>
#include <exception>
#include <functional>
#include <string>
#include <vector>

namespace crucible_catch {

struct test_case {
    const char*           name;
    std::function<void()> fn;
};

inline std::vector<test_case>& registry() {
    static std::vector<test_case> tests;
    return tests;
}

struct auto_reg {
    auto_reg(const char* name, std::function<void()> fn) {
        registry().push_back({name, std::move(fn)});
    }
};

struct check_failure : std::exception {
    std::string what_;
    explicit check_failure(std::string w) : what_(std::move(w)) {}
    const char* what() const noexcept override { return what_.c_str(); }
};

inline int& failure_count() {
    static int n = 0;
    return n;
}

inline void report_failure(const char* file, int line, const char* expr) {
    std::fprintf(stderr, "%s:%d: CHECK(%s) failed\n", file, line, expr);
    ++failure_count();
}

inline int run_all() {
    int failed = 0;
    for (auto& tc : registry()) {
        int before = failure_count();
        try {
            tc.fn();
        } catch (const std::exception& e) {
            std::fprintf(stderr, "test %s threw: %s\n", tc.name, e.what());
            ++failure_count();
        }
        if (failure_count() != before) {
            std::fprintf(stderr, "FAILED: %s\n", tc.name);
            ++failed;
        }
    }
    std::fprintf(stderr, "%zu test case(s), %d failed\n", registry().size(), failed);
    return failed == 0 ? 0 : 1;
}

}  // namespace crucible_catch

#define CRUCIBLE_CATCH_CAT2(a, b) a##b
#define CRUCIBLE_CATCH_CAT(a, b) CRUCIBLE_CATCH_CAT2(a, b)

#define TEST_CASE(name)                                                        \
    static void CRUCIBLE_CATCH_CAT(crucible_catch_fn_, __LINE__)();            \
    static ::crucible_catch::auto_reg CRUCIBLE_CATCH_CAT(                      \
        crucible_catch_reg_, __LINE__){                                        \
        name, &CRUCIBLE_CATCH_CAT(crucible_catch_fn_, __LINE__)};              \
    static void CRUCIBLE_CATCH_CAT(crucible_catch_fn_, __LINE__)()

#define CHECK(expr)                                                            \
    do {                                                                       \
        if (!(expr)) ::crucible_catch::report_failure(__FILE__, __LINE__, #expr); \
    } while (0)

#define REQUIRE(expr)                                                          \
    do {                                                                       \
        if (!(expr)) {                                                         \
            ::crucible_catch::report_failure(__FILE__, __LINE__, #expr);       \
            throw ::crucible_catch::check_failure{#expr};                      \
        }                                                                      \
    } while (0)

#if defined(CRUCIBLE_CATCH_MAIN) || defined(CATCH_CONFIG_MAIN)
int main() { return ::crucible_catch::run_all(); }
#endif
`

// catchMainSource is the one translation unit compiled once for the
// "catch_main" driver and linked into every test binary.
const catchMainSource = `#define CRUCIBLE_CATCH_MAIN
#include <catch2/catch.hpp>
`

// prepareTestDrivers materializes the synthetic driver libraries under
// the output root when any package declares a test driver. The header is
// emitted once; the catch_main object is planned as an ordinary library
// so it compiles once and archives once.
func prepareTestDrivers(outRoot string, pkgs []*plan.Package) ([]*plan.Package, error) {
	needCatch := false
	needMain := false
	for _, pkg := range pkgs {
		for _, lib := range pkg.Libraries {
			switch lib.TestDriver {
			case sdist.TestDriverCatch:
				needCatch = true
			case sdist.TestDriverCatchMain:
				needCatch = true
				needMain = true
			}
		}
	}
	if !needCatch {
		return pkgs, nil
	}

	catchRoot := filepath.Join(outRoot, "_catch2")
	headerPath := filepath.Join(catchRoot, "include", "catch2", "catch.hpp")
	if err := writeOnce(headerPath, catchHeader); err != nil {
		return nil, err
	}

	catchLib := &sdist.Library{
		Name:        "Catch",
		Namespace:   ".crucible",
		Path:        catchRoot,
		IncludeRoot: filepath.Join(catchRoot, "include"),
	}
	pkgs = append(pkgs, &plan.Package{
		Name:      "_catch2",
		Namespace: ".crucible",
		Libraries: []*sdist.Library{catchLib},
	})

	if needMain {
		mainRoot := filepath.Join(outRoot, "_catch2_main")
		mainSrc := filepath.Join(mainRoot, "src", "catch_main.cpp")
		if err := writeOnce(mainSrc, catchMainSource); err != nil {
			return nil, err
		}
		mainLib := &sdist.Library{
			Name:        "Catch-Main",
			Namespace:   ".crucible",
			Path:        mainRoot,
			SourceRoot:  filepath.Join(mainRoot, "src"),
			IncludeRoot: filepath.Join(catchRoot, "include"),
			Uses:        []string{plan.DriverCatchKey},
		}
		pkgs = append(pkgs, &plan.Package{
			Name:      "_catch2_main",
			Namespace: ".crucible",
			Libraries: []*sdist.Library{mainLib},
		})
	}
	return pkgs, nil
}

// writeOnce writes content to path unless an identical file is already
// there, so driver files do not dirty mtime-based staleness every build.
func writeOnce(path, content string) error {
	if data, err := os.ReadFile(path); err == nil && string(data) == content {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", errs.ErrIO, filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", errs.ErrIO, path, err)
	}
	return nil
}
