package plugin

import (
	"context"
	"fmt"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	pluginapi "k8s.io/kubelet/pkg/apis/deviceplugin/v1beta1"
)

// dialUnix opens a client connection to a Unix domain socket, matching the
// teacher's own dial() helper (insecure transport credentials; the
// orchestrator's registration and kubelet sockets are root-owned local
// sockets, not network endpoints).
func dialUnix(socketPath string) (*grpc.ClientConn, error) {
	return grpc.NewClient("unix:"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// registerWithOrchestrator dials the orchestrator's fixed registration
// socket and advertises endpoint (the class's own socket basename) under
// resourceName, with the plugin options the class start-up negotiated.
func registerWithOrchestrator(ctx context.Context, registrationSocket, endpoint, resourceName string, opts *pluginapi.DevicePluginOptions) error {
	conn, err := dialUnix(registrationSocket)
	if err != nil {
		return fmt.Errorf("plugin: dial registration socket %s: %w", registrationSocket, err)
	}
	defer conn.Close()

	client := pluginapi.NewRegistrationClient(conn)
	req := &pluginapi.RegisterRequest{
		Version:      pluginapi.Version,
		Endpoint:     filepath.Base(endpoint),
		ResourceName: resourceName,
		Options:      opts,
	}
	if _, err := client.Register(ctx, req); err != nil {
		return fmt.Errorf("plugin: register resource %q: %w", resourceName, err)
	}
	return nil
}
