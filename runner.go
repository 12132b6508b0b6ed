// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package phasetrend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"git.arvados.org/arvados.git/lib/cmd"
	"git.arvados.org/arvados.git/sdk/go/arvados"
	"git.arvados.org/arvados.git/sdk/go/arvadosclient"
	"git.arvados.org/arvados.git/sdk/go/keepclient"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/websocket"
)

type eventMessage struct {
	ObjectUUID string `json:"object_uuid"`
	EventType  string `json:"event_type"`
	Properties struct {
		Text string
	}
}

// containerRunner runs a phasetrend subcommand in an Arvados
// container, with this executable mounted from a collection.
type containerRunner struct {
	Client      *arvados.Client
	Name        string
	ProjectUUID string
	VCPUs       int
	RAM         int64
	Args        []string
	Mounts      map[string]map[string]interface{}
	Priority    int
}

// collectionMount returns the container mount point and mount spec for
// a collection given by UUID or portable data hash.
func collectionMount(collID string) (string, map[string]interface{}) {
	mnt := map[string]interface{}{"kind": "collection"}
	if arvadosUUIDRe.MatchString(collID) {
		mnt["uuid"] = collID
	} else {
		mnt["portable_data_hash"] = collID
	}
	return "/mnt/" + collID, mnt
}

// TranslatePaths rewrites each path that refers to a collection so it
// points into a mount added to runner.Mounts.
func (runner *containerRunner) TranslatePaths(paths ...*string) error {
	if runner.Mounts == nil {
		runner.Mounts = make(map[string]map[string]interface{})
	}
	for _, path := range paths {
		if *path == "" || *path == "-" {
			continue
		}
		m := collectionInPathRe.FindStringSubmatch(*path)
		if m == nil {
			return fmt.Errorf("cannot find uuid in path: %q", *path)
		}
		target, mnt := collectionMount(m[2])
		if _, ok := runner.Mounts[target]; !ok {
			runner.Mounts[target] = mnt
		}
		*path = target + m[3]
	}
	return nil
}

// requestAttrs returns the container_request attributes for running
// Args with the executable from collection cmdUUID.
func (runner *containerRunner) requestAttrs(cmdUUID string) map[string]interface{} {
	mounts := map[string]map[string]interface{}{
		"/mnt/output": {"kind": "collection", "writable": true},
		"/mnt/cmd":    {"kind": "collection", "uuid": cmdUUID},
	}
	for path, mnt := range runner.Mounts {
		mounts[path] = mnt
	}
	priority := runner.Priority
	if priority < 1 {
		priority = 500
	}
	return map[string]interface{}{
		"owner_uuid":      runner.ProjectUUID,
		"name":            runner.Name,
		"container_image": "phasetrend-runtime",
		"command":         append([]string{"/mnt/cmd/phasetrend"}, runner.Args...),
		"mounts":          mounts,
		"use_existing":    true,
		"output_path":     "/mnt/output",
		"runtime_constraints": arvados.RuntimeConstraints{
			VCPUs: runner.VCPUs,
			RAM:   runner.RAM,
		},
		"priority":            priority,
		"state":               arvados.ContainerRequestStateCommitted,
		"container_count_max": 1,
	}
}

// logLines splits a stderr event into log lines.
func logLines(msg eventMessage) []string {
	if msg.EventType != "stderr" {
		return nil
	}
	text := strings.TrimRight(msg.Properties.Text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Run submits the container request, relays its stderr to the log
// until it finishes, and returns the output collection UUID.
func (runner *containerRunner) Run(ctx context.Context) (string, error) {
	if runner.ProjectUUID == "" {
		return "", errors.New("cannot run arvados container: ProjectUUID not provided")
	}
	cmdUUID, err := runner.commandCollection()
	if err != nil {
		return "", err
	}
	var cr arvados.ContainerRequest
	err = runner.Client.RequestAndDecodeContext(ctx, &cr, "POST", "arvados/v1/container_requests", nil, map[string]interface{}{
		"container_request": runner.requestAttrs(cmdUUID),
	})
	if err != nil {
		return "", err
	}
	log.Printf("container request UUID: %s", cr.UUID)

	events := make(chan eventMessage)
	watchctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watching := ""
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for cr.State != arvados.ContainerRequestStateFinal {
		if cr.ContainerUUID != "" && cr.ContainerUUID != watching {
			watching = cr.ContainerUUID
			log.Printf("container UUID: %s", watching)
			go runner.watchEvents(watchctx, watching, events)
		}
		select {
		case <-ctx.Done():
			runner.cancelRequest(cr.UUID)
			return "", ctx.Err()
		case msg := <-events:
			if lines := logLines(msg); lines != nil {
				for _, line := range lines {
					log.Print(line)
				}
				continue
			}
		case <-ticker.C:
		}
		state := cr.State
		err = runner.Client.RequestAndDecodeContext(ctx, &cr, "GET", "arvados/v1/container_requests/"+cr.UUID, nil, nil)
		if err != nil {
			log.Warnf("error getting container request: %s", err)
		} else if state != cr.State {
			log.Printf("container request state: %s", cr.State)
		}
	}
	return runner.outputOf(ctx, cr)
}

func (runner *containerRunner) cancelRequest(uuid string) {
	var cr arvados.ContainerRequest
	err := runner.Client.RequestAndDecode(&cr, "PATCH", "arvados/v1/container_requests/"+uuid, nil, map[string]interface{}{
		"container_request": map[string]interface{}{"priority": 0},
	})
	if err != nil {
		log.Errorf("error cancelling container request %s: %s", uuid, err)
	}
}

// outputOf returns the output of a finished request, or an error if its
// container failed.
func (runner *containerRunner) outputOf(ctx context.Context, cr arvados.ContainerRequest) (string, error) {
	var c arvados.Container
	err := runner.Client.RequestAndDecodeContext(ctx, &c, "GET", "arvados/v1/containers/"+cr.ContainerUUID, nil, nil)
	if err != nil {
		return "", err
	}
	switch {
	case c.State != arvados.ContainerStateComplete:
		return "", fmt.Errorf("container %s did not complete: %s", c.UUID, c.State)
	case c.ExitCode != 0:
		return "", fmt.Errorf("container %s exited %d", c.UUID, c.ExitCode)
	}
	return cr.OutputUUID, nil
}

// watchEvents sends the websocket events for uuid to ch until ctx is
// done, reconnecting after errors.
func (runner *containerRunner) watchEvents(ctx context.Context, uuid string, ch chan<- eventMessage) {
	for ctx.Err() == nil {
		var cluster arvados.Cluster
		err := runner.Client.RequestAndDecodeContext(ctx, &cluster, "GET", arvados.EndpointConfigGet.Path, nil, nil)
		if err != nil {
			log.Warnf("error getting cluster config: %s", err)
			time.Sleep(5 * time.Second)
			continue
		}
		wsURL := cluster.Services.Websocket.ExternalURL
		wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
		wsURL.Path = "/websocket"
		wsURL.RawQuery = url.Values{"api_token": []string{runner.Client.AuthToken}}.Encode()
		conn, err := websocket.Dial(wsURL.String(), "", cluster.Services.Controller.ExternalURL.String())
		if err != nil {
			log.Warnf("websocket connection error: %s", err)
			time.Sleep(5 * time.Second)
			continue
		}
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		err = json.NewEncoder(conn).Encode(map[string]interface{}{
			"method": "subscribe",
			"filters": [][]interface{}{
				{"object_uuid", "=", uuid},
				{"event_type", "in", []string{"stderr", "update"}},
			},
		})
		dec := json.NewDecoder(conn)
		for err == nil {
			var msg eventMessage
			err = dec.Decode(&msg)
			if err != nil || msg.ObjectUUID != uuid {
				continue
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() == nil {
			log.Printf("error decoding websocket message: %s", err)
		}
		conn.Close()
	}
}

var mtxCommandCollection sync.Mutex

// commandCollection returns the UUID of a collection in the project
// containing this executable, identified by its BLAKE2b hash, storing
// a new one if needed.
func (runner *containerRunner) commandCollection() (string, error) {
	mtxCommandCollection.Lock()
	defer mtxCommandCollection.Unlock()
	exe, err := ioutil.ReadFile("/proc/self/exe")
	if err != nil {
		return "", err
	}
	b2 := fmt.Sprintf("%x", blake2b.Sum256(exe))
	cname := "phasetrend " + cmd.Version.String()
	uuid, err := runner.findCommandCollection(cname, b2)
	if err != nil || uuid != "" {
		return uuid, err
	}
	return runner.storeCommandCollection(cname, b2, exe)
}

func (runner *containerRunner) findCommandCollection(cname, b2 string) (string, error) {
	var existing arvados.CollectionList
	err := runner.Client.RequestAndDecode(&existing, "GET", "arvados/v1/collections", nil, arvados.ListOptions{
		Limit: 1,
		Count: "none",
		Filters: []arvados.Filter{
			{Attr: "name", Operator: "=", Operand: cname},
			{Attr: "owner_uuid", Operator: "=", Operand: runner.ProjectUUID},
			{Attr: "properties.blake2b", Operator: "=", Operand: b2},
		},
	})
	if err != nil || len(existing.Items) == 0 {
		return "", err
	}
	log.Printf("using phasetrend binary in existing collection %s", existing.Items[0].UUID)
	return existing.Items[0].UUID, nil
}

func (runner *containerRunner) storeCommandCollection(cname, b2 string, exe []byte) (string, error) {
	ac, err := arvadosclient.New(runner.Client)
	if err != nil {
		return "", err
	}
	var coll arvados.Collection
	fs, err := coll.FileSystem(runner.Client, keepclient.New(ac))
	if err != nil {
		return "", err
	}
	f, err := fs.OpenFile("phasetrend", os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		return "", err
	}
	if _, err = f.Write(exe); err != nil {
		f.Close()
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	mtxt, err := fs.MarshalManifest(".")
	if err != nil {
		return "", err
	}
	err = runner.Client.RequestAndDecode(&coll, "POST", "arvados/v1/collections", nil, map[string]interface{}{
		"collection": map[string]interface{}{
			"owner_uuid":    runner.ProjectUUID,
			"manifest_text": mtxt,
			"name":          cname,
			"properties":    map[string]interface{}{"blake2b": b2},
		},
	})
	if err != nil {
		return "", err
	}
	log.Printf("stored phasetrend binary in new collection %s", coll.UUID)
	return coll.UUID, nil
}
