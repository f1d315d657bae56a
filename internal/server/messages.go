package server

import (
	"time"

	"github.com/dantte-lp/gomstp/internal/mstp"
)

// -------------------------------------------------------------------------
// Service Procedures: mstp.v1.MstpService
// -------------------------------------------------------------------------

// ServiceName is the fully qualified service name used for routing and
// health checks.
const ServiceName = "mstp.v1.MstpService"

// Procedure paths.
const (
	GetBridgeProcedure        = "/" + ServiceName + "/GetBridge"
	ListPortsProcedure        = "/" + ServiceName + "/ListPorts"
	GetPortProcedure          = "/" + ServiceName + "/GetPort"
	ListInstancesProcedure    = "/" + ServiceName + "/ListInstances"
	GetInstanceProcedure      = "/" + ServiceName + "/GetInstance"
	SetPortConfigProcedure    = "/" + ServiceName + "/SetPortConfig"
	SetBridgeConfigProcedure  = "/" + ServiceName + "/SetBridgeConfig"
	SetInstanceVLANsProcedure = "/" + ServiceName + "/SetInstanceVLANs"
	ClearStatsProcedure       = "/" + ServiceName + "/ClearStats"
	WatchEventsProcedure      = "/" + ServiceName + "/WatchEvents"
)

// -------------------------------------------------------------------------
// Views
// -------------------------------------------------------------------------

// Times mirrors mstp.Times in seconds.
type Times struct {
	MessageAge    uint16 `json:"message_age"    yaml:"message_age"`
	MaxAge        uint16 `json:"max_age"        yaml:"max_age"`
	ForwardDelay  uint16 `json:"forward_delay"  yaml:"forward_delay"`
	HelloTime     uint16 `json:"hello_time"     yaml:"hello_time"`
	RemainingHops uint8  `json:"remaining_hops" yaml:"remaining_hops"`
}

// Bridge is the bridge-wide view.
type Bridge struct {
	BridgeID     string `json:"bridge_id"     yaml:"bridge_id"`
	Address      string `json:"address"       yaml:"address"`
	ForceVersion string `json:"force_version" yaml:"force_version"`
	Priority     uint16 `json:"priority"      yaml:"priority"`
	HelloTime    uint16 `json:"hello_time"    yaml:"hello_time"`
	MaxAge       uint16 `json:"max_age"       yaml:"max_age"`
	ForwardDelay uint16 `json:"forward_delay" yaml:"forward_delay"`
	MaxHops      uint8  `json:"max_hops"      yaml:"max_hops"`
	TxHoldCount  uint16 `json:"tx_hold_count" yaml:"tx_hold_count"`

	Region   string `json:"region"   yaml:"region"`
	Revision uint16 `json:"revision" yaml:"revision"`
	Digest   string `json:"digest"   yaml:"digest"`

	RootID               string `json:"root_id"                 yaml:"root_id"`
	ExternalRootPathCost uint32 `json:"external_root_path_cost" yaml:"external_root_path_cost"`
	RegionalRootID       string `json:"regional_root_id"        yaml:"regional_root_id"`
	InternalRootPathCost uint32 `json:"internal_root_path_cost" yaml:"internal_root_path_cost"`
	RootPort             uint16 `json:"root_port"               yaml:"root_port"`
	RootTimes            Times  `json:"root_times"              yaml:"root_times"`

	Instances       []uint16 `json:"instances"        yaml:"instances"`
	PortCount       int      `json:"port_count"       yaml:"port_count"`
	TopologyChanges uint64   `json:"topology_changes" yaml:"topology_changes"`
}

// PortStats mirrors mstp.PortStats.
type PortStats struct {
	RxConfig  uint64 `json:"rx_config"  yaml:"rx_config"`
	RxTCN     uint64 `json:"rx_tcn"     yaml:"rx_tcn"`
	RxRST     uint64 `json:"rx_rst"     yaml:"rx_rst"`
	RxMST     uint64 `json:"rx_mst"     yaml:"rx_mst"`
	RxDropped uint64 `json:"rx_dropped" yaml:"rx_dropped"`
	TxConfig  uint64 `json:"tx_config"  yaml:"tx_config"`
	TxTCN     uint64 `json:"tx_tcn"     yaml:"tx_tcn"`
	TxRST     uint64 `json:"tx_rst"     yaml:"tx_rst"`
	TxMST     uint64 `json:"tx_mst"     yaml:"tx_mst"`
}

// TreePort is the view of one port in one tree.
type TreePort struct {
	MSTID            uint16 `json:"mstid"             yaml:"mstid"`
	Port             uint16 `json:"port"              yaml:"port"`
	PortName         string `json:"port_name"         yaml:"port_name"`
	PortID           string `json:"port_id"           yaml:"port_id"`
	Role             string `json:"role"              yaml:"role"`
	SelectedRole     string `json:"selected_role"     yaml:"selected_role"`
	State            string `json:"state"             yaml:"state"`
	InfoIs           string `json:"info_is"           yaml:"info_is"`
	DesignatedRoot   string `json:"designated_root"   yaml:"designated_root"`
	DesignatedBridge string `json:"designated_bridge" yaml:"designated_bridge"`
	DesignatedPort   string `json:"designated_port"   yaml:"designated_port"`
	InternalPathCost uint32 `json:"internal_path_cost" yaml:"internal_path_cost"`
	ExternalPathCost uint32 `json:"external_path_cost" yaml:"external_path_cost"`

	Learning    bool `json:"learning"     yaml:"learning"`
	Forwarding  bool `json:"forwarding"   yaml:"forwarding"`
	Agreed      bool `json:"agreed"       yaml:"agreed"`
	Proposing   bool `json:"proposing"    yaml:"proposing"`
	Disputed    bool `json:"disputed"     yaml:"disputed"`
	RootGuarded bool `json:"root_guarded" yaml:"root_guarded"`
	Master      bool `json:"master"       yaml:"master"`

	TcWhile            uint16 `json:"tc_while"            yaml:"tc_while"`
	ForwardTransitions uint64 `json:"forward_transitions" yaml:"forward_transitions"`
}

// Port is the view of one port across trees.
type Port struct {
	Number           uint16     `json:"number"              yaml:"number"`
	Name             string     `json:"name"                yaml:"name"`
	Enabled          bool       `json:"enabled"             yaml:"enabled"`
	AdminEdge        bool       `json:"admin_edge"          yaml:"admin_edge"`
	OperEdge         bool       `json:"oper_edge"           yaml:"oper_edge"`
	LinkType         string     `json:"link_type"           yaml:"link_type"`
	OperPointToPoint bool       `json:"oper_point_to_point" yaml:"oper_point_to_point"`
	RootGuard        bool       `json:"root_guard"          yaml:"root_guard"`
	Boundary         bool       `json:"boundary"            yaml:"boundary"`
	SendRSTP         bool       `json:"send_rstp"           yaml:"send_rstp"`
	Stats            PortStats  `json:"stats"               yaml:"stats"`
	Trees            []TreePort `json:"trees"               yaml:"trees"`
}

// Instance is the view of one tree; MSTID zero is the CIST.
type Instance struct {
	MSTID           uint16     `json:"mstid"            yaml:"mstid"`
	BridgeID        string     `json:"bridge_id"        yaml:"bridge_id"`
	RegionalRootID  string     `json:"regional_root_id" yaml:"regional_root_id"`
	RootPathCost    uint32     `json:"root_path_cost"   yaml:"root_path_cost"`
	RootPort        uint16     `json:"root_port"        yaml:"root_port"`
	RemainingHops   uint8      `json:"remaining_hops"   yaml:"remaining_hops"`
	VLANs           string     `json:"vlans"            yaml:"vlans"`
	TopologyChanges uint64     `json:"topology_changes" yaml:"topology_changes"`
	Ports           []TreePort `json:"ports"            yaml:"ports"`
}

// Event mirrors mstp.Event.
type Event struct {
	Kind     string    `json:"kind"      yaml:"kind"`
	Time     time.Time `json:"time"      yaml:"time"`
	MSTID    uint16    `json:"mstid"     yaml:"mstid"`
	Port     uint16    `json:"port"      yaml:"port"`
	PortName string    `json:"port_name" yaml:"port_name"`
	Old      string    `json:"old"       yaml:"old"`
	New      string    `json:"new"       yaml:"new"`
}

// -------------------------------------------------------------------------
// Requests and Responses
// -------------------------------------------------------------------------

type GetBridgeRequest struct{}

type GetBridgeResponse struct {
	Bridge Bridge `json:"bridge"`
}

type ListPortsRequest struct{}

type ListPortsResponse struct {
	Ports []Port `json:"ports"`
}

// PortSelector names a port by number or, when Number is zero, by
// interface name.
type PortSelector struct {
	Number uint16 `json:"number,omitempty"`
	Name   string `json:"name,omitempty"`
}

type GetPortRequest struct {
	Port PortSelector `json:"port"`
}

type GetPortResponse struct {
	Port Port `json:"port"`
}

type ListInstancesRequest struct{}

type ListInstancesResponse struct {
	Instances []Instance `json:"instances"`
}

type GetInstanceRequest struct {
	MSTID uint16 `json:"mstid"`
}

type GetInstanceResponse struct {
	Instance Instance `json:"instance"`
}

// SetPortConfigRequest changes the fields that are set. PathCost and
// Priority apply to tree MSTID; the rest are per port.
type SetPortConfigRequest struct {
	Port      PortSelector `json:"port"`
	MSTID     uint16       `json:"mstid,omitempty"`
	Enabled   *bool        `json:"enabled,omitempty"`
	AdminEdge *bool        `json:"admin_edge,omitempty"`
	LinkType  *string      `json:"link_type,omitempty"`
	PathCost  *uint32      `json:"path_cost,omitempty"`
	Priority  *uint8       `json:"priority,omitempty"`
	RootGuard *bool        `json:"root_guard,omitempty"`
}

type SetPortConfigResponse struct {
	Port Port `json:"port"`
}

// SetBridgeConfigRequest changes the fields that are set. Priority
// applies to tree MSTID.
type SetBridgeConfigRequest struct {
	MSTID        uint16  `json:"mstid,omitempty"`
	ForceVersion *string `json:"force_version,omitempty"`
	Priority     *uint16 `json:"priority,omitempty"`
	HelloTime    *uint16 `json:"hello_time,omitempty"`
	MaxAge       *uint16 `json:"max_age,omitempty"`
	ForwardDelay *uint16 `json:"forward_delay,omitempty"`
	MaxHops      *uint8  `json:"max_hops,omitempty"`
	TxHoldCount  *uint16 `json:"tx_hold_count,omitempty"`
	Region       *string `json:"region,omitempty"`
	Revision     *uint16 `json:"revision,omitempty"`
}

type SetBridgeConfigResponse struct {
	Bridge Bridge `json:"bridge"`
}

// SetInstanceVLANsRequest replaces the VLANs of an MSTI. An empty list
// removes the instance.
type SetInstanceVLANsRequest struct {
	MSTID uint16 `json:"mstid"`
	VLANs string `json:"vlans"`
}

// SetInstanceVLANsResponse carries the instance, nil when it was removed.
type SetInstanceVLANsResponse struct {
	Instance *Instance `json:"instance,omitempty"`
}

// ClearStatsRequest resets the counters of one port, or of every port
// when Port is empty.
type ClearStatsRequest struct {
	Port PortSelector `json:"port"`
}

type ClearStatsResponse struct{}

// WatchEventsRequest filters the stream by event kind; empty keeps all.
type WatchEventsRequest struct {
	Kinds []string `json:"kinds,omitempty"`
}

type WatchEventsResponse struct {
	Event Event `json:"event"`
}

// -------------------------------------------------------------------------
// Conversion from protocol snapshots
// -------------------------------------------------------------------------

func toTimes(t mstp.Times) Times {
	return Times{
		MessageAge:    t.MessageAge,
		MaxAge:        t.MaxAge,
		ForwardDelay:  t.FwdDelay,
		HelloTime:     t.HelloTime,
		RemainingHops: t.RemainingHops,
	}
}

func toBridge(s mstp.BridgeSnapshot) Bridge {
	out := Bridge{
		BridgeID:     s.BridgeID.String(),
		Address:      s.Config.Addr.String(),
		ForceVersion: s.Config.ForceVersion.String(),
		Priority:     s.Config.Priority,
		HelloTime:    s.Config.HelloTime,
		MaxAge:       s.Config.MaxAge,
		ForwardDelay: s.Config.FwdDelay,
		MaxHops:      s.Config.MaxHops,
		TxHoldCount:  s.Config.TxHoldCount,

		Region:   s.ConfigID.RegionName(),
		Revision: s.ConfigID.Revision,
		Digest:   s.ConfigID.DigestString(),

		RootID:               s.Root.Root.String(),
		ExternalRootPathCost: s.Root.ExtPathCost,
		RegionalRootID:       s.Root.RegionalRoot.String(),
		InternalRootPathCost: s.Root.IntPathCost,
		RootPort:             uint16(s.RootPort),
		RootTimes:            toTimes(s.RootTimes),

		PortCount:       s.PortCount,
		TopologyChanges: s.TopologyChanges,
	}
	for _, id := range s.Instances {
		out.Instances = append(out.Instances, uint16(id))
	}
	return out
}

func toTreePort(s mstp.TreePortSnapshot) TreePort {
	root := s.PortPriority.RegionalRoot
	if s.MSTID == mstp.CISTID {
		root = s.PortPriority.Root
	}
	return TreePort{
		MSTID:            uint16(s.MSTID),
		Port:             uint16(s.Port),
		PortName:         s.PortName,
		PortID:           s.PortID.String(),
		Role:             s.Role.String(),
		SelectedRole:     s.SelectedRole.String(),
		State:            s.State.String(),
		InfoIs:           s.InfoIs.String(),
		DesignatedRoot:   root.String(),
		DesignatedBridge: s.PortPriority.DesignatedID.String(),
		DesignatedPort:   s.PortPriority.DesignatedPort.String(),
		InternalPathCost: s.IntPathCost,
		ExternalPathCost: s.ExtPathCost,

		Learning:    s.Learning,
		Forwarding:  s.Forwarding,
		Agreed:      s.Agreed,
		Proposing:   s.Proposing,
		Disputed:    s.Disputed,
		RootGuarded: s.RootGuarded,
		Master:      s.Master,

		TcWhile:            s.TcWhile,
		ForwardTransitions: s.ForwardTransitions,
	}
}

func toTreePorts(in []mstp.TreePortSnapshot) []TreePort {
	out := make([]TreePort, 0, len(in))
	for _, s := range in {
		out = append(out, toTreePort(s))
	}
	return out
}

func toPort(s mstp.PortSnapshot) Port {
	st := s.Stats
	return Port{
		Number:           uint16(s.Num),
		Name:             s.Name,
		Enabled:          s.Enabled,
		AdminEdge:        s.AdminEdge,
		OperEdge:         s.OperEdge,
		LinkType:         s.LinkType.String(),
		OperPointToPoint: s.OperPt2Pt,
		RootGuard:        s.RootGuard,
		Boundary:         s.Boundary,
		SendRSTP:         s.SendRSTP,
		Stats: PortStats{
			RxConfig:  st.RxConfig,
			RxTCN:     st.RxTCN,
			RxRST:     st.RxRST,
			RxMST:     st.RxMST,
			RxDropped: st.RxDropped,
			TxConfig:  st.TxConfig,
			TxTCN:     st.TxTCN,
			TxRST:     st.TxRST,
			TxMST:     st.TxMST,
		},
		Trees: toTreePorts(s.Trees),
	}
}

func toInstance(s mstp.TreeSnapshot) Instance {
	cost := s.Root.IntPathCost
	if s.MSTID == mstp.CISTID {
		cost = s.Root.ExtPathCost
	}
	return Instance{
		MSTID:           uint16(s.MSTID),
		BridgeID:        s.BridgeID.String(),
		RegionalRootID:  s.Root.RegionalRoot.String(),
		RootPathCost:    cost,
		RootPort:        uint16(s.RootPort),
		RemainingHops:   s.RootTimes.RemainingHops,
		VLANs:           s.VLANs.String(),
		TopologyChanges: s.TopologyChanges,
		Ports:           toTreePorts(s.Ports),
	}
}

func toEvent(ev mstp.Event) Event {
	return Event{
		Kind:     ev.Kind.String(),
		Time:     ev.Time,
		MSTID:    uint16(ev.MSTID),
		Port:     uint16(ev.Port),
		PortName: ev.PortName,
		Old:      ev.Old,
		New:      ev.New,
	}
}
