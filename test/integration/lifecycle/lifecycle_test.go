// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package lifecycle_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/plugin"
)

const quietScript = `
function plugin_load() gatekeeper.log("info", "up") end
function plugin_unload() gatekeeper.log("info", "down") return true end
`

var _ = Describe("Plugin lifecycle", func() {
	var env *hostEnv

	BeforeEach(func() {
		env = newHostEnv()
	})

	AfterEach(func() {
		env.cleanup()
	})

	Describe("startup refresh", func() {
		It("loads plugins whose load phase has been reached", func() {
			env.addLuaPlugin("boot", plugin.Startup, plugin.Anytime, quietScript)
			env.addLuaPlugin("level", plugin.ChangeLevel, plugin.Anytime, quietScript)
			env.addHeartbeat(plugin.Startup, plugin.AnyPause)

			report := env.refresh()
			Expect(report.Registered).To(ConsistOf("boot", "heartbeat", "level"))
			Expect(report.Loaded).To(ConsistOf("boot", "heartbeat"))
			Expect(env.state("level").State).To(Equal(plugin.StatusUnloaded))

			Expect(env.phases.Advance(plugin.ChangeLevel)).To(Succeed())
			report = env.refresh()
			Expect(report.Loaded).To(ConsistOf("level"))
		})

		It("refuses a plugin built against another interface version", func() {
			env.addLuaPlugin("stale", plugin.Startup, plugin.Anytime, quietScript)
			manifest := filepath.Join(env.dir, "stale", plugin.ManifestFile)
			rewriteFile(manifest, plugin.InterfaceVersion, "4:0")

			_, err := env.reconciler.Refresh(env.ctx)
			Expect(err).To(HaveOccurred())
			Expect(plugin.ErrorCode(err)).To(Equal(plugin.CodeIncompatibleInterface))
			_, ok := env.registry.Lookup("stale")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("deferred unloads", func() {
		It("waits for the plugin's unload phase and keeps the origin cause", func() {
			env.addLuaPlugin("level", plugin.Startup, plugin.ChangeLevel, quietScript)
			env.refresh()

			out, err := env.exec("unload level")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("pending until changelevel"))

			_, err = env.exec("unload level")
			Expect(err).NotTo(HaveOccurred())
			st := env.state("level")
			Expect(st.State).To(Equal(plugin.StatusPendingUnload))
			Expect(st.Displayed).To(Equal(plugin.CauseDeferred))
			Expect(st.Retained).To(Equal(plugin.CauseOperatorCommand))

			out, err = env.exec("phase changelevel")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Phase is now changelevel"))

			st = env.state("level")
			Expect(st.State).To(Equal(plugin.StatusUnloaded))
			Expect(st.Displayed).To(Equal(plugin.CauseOperatorCommand))
		})

		It("unloads a pause-tolerant binary plugin while paused", func() {
			env.addHeartbeat(plugin.Startup, plugin.AnyPause)
			env.refresh()
			Expect(env.binary.Running()).To(Equal(1))

			_, err := env.exec("unload heartbeat")
			Expect(err).NotTo(HaveOccurred())
			Expect(env.state("heartbeat").State).To(Equal(plugin.StatusPendingUnload))

			_, err = env.exec("pause")
			Expect(err).NotTo(HaveOccurred())
			Expect(env.state("heartbeat").State).To(Equal(plugin.StatusUnloaded))
			Expect(env.binary.Running()).To(Equal(0))
		})

		It("cancels a pending unload", func() {
			env.addLuaPlugin("level", plugin.Startup, plugin.Anytime, quietScript)
			env.refresh()

			_, err := env.exec("unload level")
			Expect(err).NotTo(HaveOccurred())
			_, err = env.exec("cancel level")
			Expect(err).NotTo(HaveOccurred())

			Expect(env.phases.Advance(plugin.Anytime)).To(Succeed())
			Expect(env.state("level").State).To(Equal(plugin.StatusLoaded))
		})
	})

	Describe("forced unloads", func() {
		It("bypasses a Never declaration", func() {
			env.addLuaPlugin("core", plugin.Startup, plugin.Never, quietScript)
			env.refresh()

			_, err := env.exec("unload core")
			Expect(err).To(HaveOccurred())
			Expect(plugin.ErrorCode(err)).To(Equal(plugin.CodeLifecycleForbidden))
			Expect(env.state("core").State).To(Equal(plugin.StatusLoaded))

			out, err := env.exec("force_unload core")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(`Unloaded "core"`))
			st := env.state("core")
			Expect(st.State).To(Equal(plugin.StatusUnloaded))
			Expect(st.Retained).To(Equal(plugin.CauseOperatorForced))
		})

		It("reloads a binary plugin in a fresh process", func() {
			env.addHeartbeat(plugin.Startup, plugin.Anytime)
			env.refresh()
			first := env.state("heartbeat").LoadedAt

			out, err := env.exec("force_reload heartbeat")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Reloaded"))

			st := env.state("heartbeat")
			Expect(st.State).To(Equal(plugin.StatusLoaded))
			Expect(st.LoadedAt).To(BeTemporally(">=", first))
			Expect(env.binary.Running()).To(Equal(1))
		})
	})

	Describe("configuration changes", func() {
		It("unloads and purges plugins removed from the directory", func() {
			env.addLuaPlugin("gone", plugin.Startup, plugin.Startup, quietScript)
			env.refresh()

			Expect(os.RemoveAll(filepath.Join(env.dir, "gone"))).To(Succeed())
			report := env.refresh()
			Expect(report.Unloaded).To(ConsistOf("gone"))
			Expect(report.Purged).To(ConsistOf("gone"))
		})

		It("leaves a plugin the operator unloaded alone", func() {
			env.addLuaPlugin("greeter", plugin.Startup, plugin.Startup, quietScript)
			env.refresh()

			_, err := env.exec("unload greeter")
			Expect(err).NotTo(HaveOccurred())

			out, err := env.exec("refresh")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).NotTo(ContainSubstring("greeter"))
			Expect(env.state("greeter").State).To(Equal(plugin.StatusUnloaded))
		})
	})

	Describe("shutdown", func() {
		It("force-unloads every plugin", func() {
			env.addLuaPlugin("core", plugin.Startup, plugin.Never, quietScript)
			env.addHeartbeat(plugin.Startup, plugin.Never)
			env.refresh()

			Expect(env.registry.Close(env.ctx)).To(Succeed())
			Expect(env.state("core").State).To(Equal(plugin.StatusUnloaded))
			Expect(env.state("heartbeat").State).To(Equal(plugin.StatusUnloaded))
			Expect(env.binary.Running()).To(Equal(0))
		})
	})
})
