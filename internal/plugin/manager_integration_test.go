// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package plugin_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/nvimwasm/internal/decl"
	"github.com/holomush/nvimwasm/internal/plugin"
	"github.com/holomush/nvimwasm/internal/plugin/hostfunc"
	"github.com/holomush/nvimwasm/internal/wasm"
	"github.com/holomush/nvimwasm/internal/wasm/wasmtest"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

const integrationFuncs = `
Object nvim_get_var(String name, Error *err) FUNC_API_SINCE(1);
void nvim_set_var(String name, Object value, Error *err) FUNC_API_SINCE(1);
`

var _ = Describe("Manager with the wasm runtime", func() {
	var (
		ctx     context.Context
		root    string
		vars    *hostfunc.MemoryVars
		rt      *wasm.Runtime
		manager *plugin.Manager
	)

	install := func(dir, manifest string, g *wasmtest.Guest) {
		path := filepath.Join(root, dir)
		Expect(os.MkdirAll(path, 0o700)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(path, plugin.ManifestFile), []byte(manifest), 0o600)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(path, "module.wasm"), g.Bytes(), 0o600)).To(Succeed())
	}

	varsGuest := func() *wasmtest.Guest {
		return wasmtest.NewGuest("nvim-get-var", "nvim-set-var").
			Forward("get", "nvim-get-var").
			Forward("set", "nvim-set-var").
			Echo("echo")
	}

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()

		api, _, err := decl.ParseAPI("", []decl.Source{{Name: "it.h", Text: integrationFuncs}}, decl.Strict())
		Expect(err).NotTo(HaveOccurred())
		host := hostfunc.NewRegistry(api)
		vars = hostfunc.NewMemoryVars()
		Expect(hostfunc.NewStandard(vars, nil).Register(host)).To(Succeed())

		rt, err = wasm.New(ctx, host)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(rt.Close(context.Background())).To(Succeed()) })

		manager = plugin.NewManager(root, rt, plugin.WithAPILevel(int(api.Level())))
	})

	Context("when plugins declare capabilities", func() {
		BeforeEach(func() {
			install("reader", `
name: reader
version: 1.0.0
capabilities: [nvim_get_var]
exports: [get, echo]
wasm:
  entry: module.wasm
`, varsGuest())
			install("writer", `
name: writer
version: 0.1.0
capabilities: ["nvim_*_var"]
wasm:
  entry: module.wasm
`, varsGuest())

			results, err := manager.LoadAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			for _, r := range results {
				Expect(r.Err).NotTo(HaveOccurred(), r.Name)
			}
		})

		It("loads every plugin under its manifest name", func() {
			Expect(manager.ListPlugins()).To(Equal([]string{"reader", "writer"}))

			lp, ok := manager.Get("reader")
			Expect(ok).To(BeTrue())
			info, err := rt.Info(lp.InstanceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Plugin).To(Equal("reader"))
			Expect(info.Module).To(HavePrefix("reader#"))
		})

		It("lets granted host calls through", func() {
			_, err := manager.Call(ctx, "writer", "set", []object.Object{object.String("mode"), object.String("fast")})
			Expect(err).NotTo(HaveOccurred())

			got, err := manager.Call(ctx, "reader", "get", []object.Object{object.String("mode")})
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(object.String("fast")))
		})

		It("refuses host calls outside the grants", func() {
			_, err := manager.Call(ctx, "reader", "set", []object.Object{object.String("mode"), object.Nil{}})
			Expect(errutil.Code(err)).To(Equal(errutil.CodeGuestError))
			Expect(err.Error()).To(ContainSubstring("not permitted to call nvim_set_var"))

			_, found, err := vars.Get(ctx, hostfunc.GlobalScope, "mode")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("frees the instance on unload", func() {
			lp, _ := manager.Get("writer")
			Expect(manager.Unload(ctx, "writer")).To(Succeed())
			_, err := rt.Info(lp.InstanceID)
			Expect(errutil.Code(err)).To(Equal(errutil.CodeInstanceNotFound))
		})
	})

	Context("when a plugin is incompatible", func() {
		It("reports the failure and keeps loading the rest", func() {
			install("future", `
name: future
version: 1.0.0
api-level: ">= 1000"
wasm:
  entry: module.wasm
`, varsGuest())
			install("lying", `
name: lying
version: 1.0.0
exports: [missing]
wasm:
  entry: module.wasm
`, varsGuest())
			install("fine", `
name: fine
version: 1.0.0
wasm:
  entry: module.wasm
`, varsGuest())

			results, err := manager.LoadAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(manager.ListPlugins()).To(Equal([]string{"fine"}))
			Expect(rt.Instances()).To(HaveLen(1), "a module missing declared exports is unloaded again")
		})
	})
})
