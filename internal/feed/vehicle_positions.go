// Package feed renders projected positions as a GTFS-realtime
// VehiclePositions feed.
package feed

import (
	"fmt"
	"strconv"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

const (
	ContentTypeProtobuf = "application/x-protobuf"
	ContentTypeJSON     = "application/json"
)

// BuildVehiclePositions makes one entity per projected train. Dwelling trains
// are STOPPED_AT their station; moving trains are IN_TRANSIT_TO the next one.
func BuildVehiclePositions(positions []gapeka.ProjectedPosition, at time.Time) *gtfsrtpb.FeedMessage {
	ts := uint64(at.Unix())
	msg := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(ts),
		},
		Entity: make([]*gtfsrtpb.FeedEntity, 0, len(positions)),
	}
	for _, p := range positions {
		id := strconv.FormatInt(p.TrainID, 10)
		status := gtfsrtpb.VehiclePosition_STOPPED_AT
		if p.Moving {
			status = gtfsrtpb.VehiclePosition_IN_TRANSIT_TO
		}
		vp := &gtfsrtpb.VehiclePosition{
			Trip: &gtfsrtpb.TripDescriptor{
				TripId: proto.String(id),
			},
			Vehicle: &gtfsrtpb.VehicleDescriptor{
				Id:    proto.String(id),
				Label: proto.String(label(p)),
			},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(p.Position.Lat)),
				Longitude: proto.Float32(float32(p.Position.Lng)),
				Bearing:   proto.Float32(float32(p.BearingDeg)),
				// km/h to m/s
				Speed: proto.Float32(float32(p.SpeedKmh / 3.6)),
			},
			CurrentStatus: status.Enum(),
			Timestamp:     proto.Uint64(ts),
		}
		if p.StationCode != "" {
			vp.StopId = proto.String(p.StationCode)
		}
		msg.Entity = append(msg.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(id),
			Vehicle: vp,
		})
	}
	return msg
}

func label(p gapeka.ProjectedPosition) string {
	if p.Name == "" {
		return p.Code
	}
	return fmt.Sprintf("%s %s", p.Code, p.Name)
}

// Marshal encodes msg as wire protobuf, or as protojson when asJSON is set.
// It returns the matching content type.
func Marshal(msg *gtfsrtpb.FeedMessage, asJSON bool) ([]byte, string, error) {
	if asJSON {
		b, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
		return b, ContentTypeJSON, err
	}
	b, err := proto.Marshal(msg)
	return b, ContentTypeProtobuf, err
}
