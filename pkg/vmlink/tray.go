package vmlink

import (
	"fyne.io/systray"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

func (v *VMLink) initializeTray(onDone func()) {
	logger := v.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(VMLinkLogoIconData, VMLinkLogoIconData)
		systray.SetTitle("vmlink")
		systray.SetTooltip("vmlink")

		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with the default editor")

		restartEngine := systray.AddMenuItem("Restart audio engine", "Restart the mixing engine's audio processing")

		toggleRouting := systray.AddMenuItem("Toggle routing", "Swap the mute state of the routed channels")

		if v.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(v.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop vmlink and quit")

		go func() {
			defer v.recoverFromPanic()

			for {
				select {
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					v.signalStop()

				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					if err := util.ShellOpen(v.configMan.Path()); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				case <-restartEngine.ClickedCh:
					logger.Info("Restart engine menu item clicked")

					go func() {
						if err := v.sessions.Restart(v.ctx); err != nil {
							logger.Warnw("Failed to restart engine from tray", "error", err)
							v.notifier.Notify("Restart failed", "Please check vmlink's logs for more details.")
						}
					}()

				case <-toggleRouting.ClickedCh:
					logger.Info("Toggle routing menu item clicked")

					go v.toggleRouting()
				}
			}
		}()

		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (v *VMLink) stopTray() {
	v.logger.Debug("Quitting tray")
	systray.Quit()
}
