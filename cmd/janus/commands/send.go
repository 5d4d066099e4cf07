package commands

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/janusipc/janus/internal/config"
	"github.com/janusipc/janus/pkg/client"
	"github.com/janusipc/janus/pkg/manifest"
	"github.com/janusipc/janus/pkg/wire"
)

var (
	sendSocket      string
	sendTo          string
	sendRequest     string
	sendMessage     string
	sendManifest    string
	sendInteractive bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one request to a Janus server and print the response",
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendSocket, "socket", "", "Unix socket path of the server")
	sendCmd.Flags().StringVar(&sendTo, "send-to", "", "alias for --socket, kept for drop-in compatibility")
	sendCmd.Flags().StringVar(&sendRequest, "request", "ping", "request name to send")
	sendCmd.Flags().StringVar(&sendMessage, "message", "hello", "message argument for echo/get_info/validate/slow_process")
	sendCmd.Flags().StringVar(&sendManifest, "manifest", "", "Manifest file enabling Argument Validation")
	sendCmd.Flags().BoolVar(&sendInteractive, "interactive", false, "prompt for request name and message interactively")
}

// requestsAcceptingMessage lists the built-in requests the CLI sends a
// "message" argument to; of these, only echo and validate read it.
var requestsAcceptingMessage = map[string]bool{
	"echo": true, "get_info": true, "validate": true, "slow_process": true,
}

func runSend(cmd *cobra.Command, args []string) error {
	socketPath := sendSocket
	if socketPath == "" {
		socketPath = sendTo
	}

	requestName := sendRequest
	message := sendMessage

	if sendInteractive {
		var err error
		requestName, message, err = promptForRequest(requestName, message)
		if err != nil {
			return Runtime(err)
		}
	}

	cfg, err := config.LoadClientConfig(cfgFile, socketPath)
	if err != nil {
		return Runtime(err)
	}

	c, err := client.New(client.Config{
		ServerPath:       cfg.ServerPath,
		DefaultTimeout:   cfg.Timeout,
		MaxMessageSize:   cfg.MaxMessageSize,
		EnableValidation: cfg.EnableValidation,
	})
	if err != nil {
		return Runtime(errors.Wrap(err, "creating client"))
	}
	defer c.Close()

	if sendManifest != "" {
		data, err := os.ReadFile(sendManifest)
		if err != nil {
			return Runtime(errors.Wrap(err, "reading manifest file"))
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return Runtime(errors.Wrap(err, "parsing manifest file"))
		}
		c.SetManifest(m)
	}

	var wireArgs map[string]wire.Value
	if requestsAcceptingMessage[requestName] {
		wireArgs = map[string]wire.Value{"message": wire.String(message)}
	}

	resp, err := c.SendRequest(requestName, wireArgs, cfg.Timeout)
	if err != nil {
		return Runtime(errors.Wrap(err, "sending request"))
	}

	if resp.Success {
		fmt.Printf("success: %s\n", resp.Result.String())
	} else {
		fmt.Printf("failure: [%d] %s\n", resp.Error.Code, resp.Error.Message)
		return Runtime(errors.Newf("request failed: %s", resp.Error.Message))
	}
	return nil
}

func promptForRequest(defaultRequest, defaultMessage string) (string, string, error) {
	reqPrompt := promptui.Prompt{Label: "Request", Default: defaultRequest}
	requestName, err := reqPrompt.Run()
	if err != nil {
		return "", "", wrapPromptErr(err)
	}

	if !requestsAcceptingMessage[requestName] {
		return requestName, defaultMessage, nil
	}

	msgPrompt := promptui.Prompt{Label: "Message", Default: defaultMessage}
	message, err := msgPrompt.Run()
	if err != nil {
		return "", "", wrapPromptErr(err)
	}
	return requestName, message, nil
}

func wrapPromptErr(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
		return errors.New("aborted")
	}
	return err
}
